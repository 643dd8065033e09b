package models

// RevenueStats aggregates successful orders over a range; amounts are USD
type RevenueStats struct {
	TotalRevenue        float64 `json:"totalRevenue"`
	PayingUsers         int64   `json:"payingUsers"`
	ARPU                float64 `json:"arpu"`
	ARPPU               float64 `json:"arppu"`
	BasicRevenue        float64 `json:"basicRevenue"`
	BasicUsers          int64   `json:"basicUsers"`
	ProRevenue          float64 `json:"proRevenue"`
	ProUsers            int64   `json:"proUsers"`
	SubscriptionRevenue float64 `json:"subscriptionRevenue"`
	EnergyRevenue       float64 `json:"energyRevenue"`
	ArticleRevenue      float64 `json:"articleRevenue"`
	BasicMonthlyRevenue float64 `json:"basicMonthlyRevenue"`
	BasicYearlyRevenue  float64 `json:"basicYearlyRevenue"`
	ProMonthlyRevenue   float64 `json:"proMonthlyRevenue"`
	ProYearlyRevenue    float64 `json:"proYearlyRevenue"`
	Energy500Revenue    float64 `json:"energy500Revenue"`
	Energy2000Revenue   float64 `json:"energy2000Revenue"`
}

// DailyRevenue is the revenue breakdown for a single calendar day
type DailyRevenue struct {
	Date           string  `json:"date"`
	TotalRevenue   float64 `json:"totalRevenue"`
	BasicRevenue   float64 `json:"basicRevenue"`
	ProRevenue     float64 `json:"proRevenue"`
	EnergyRevenue  float64 `json:"energyRevenue"`
	ArticleRevenue float64 `json:"articleRevenue"`
	PayingUsers    int64   `json:"payingUsers"`
	OrderCount     int64   `json:"orderCount"`
}

// RevenueReport combines the range totals with the daily trend
type RevenueReport struct {
	Stats RevenueStats   `json:"stats"`
	Daily []DailyRevenue `json:"daily"`
	Query DashboardQuery `json:"query"`
}
