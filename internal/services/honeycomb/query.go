package honeycomb

import "fmt"

// Calculation is one aggregate in a query spec
type Calculation struct {
	Op     string `json:"op"`
	Column string `json:"column,omitempty"`
}

// Filter restricts the events a query reads
type Filter struct {
	Column string      `json:"column"`
	Op     string      `json:"op"`
	Value  interface{} `json:"value,omitempty"`
}

// Order sorts query results by a calculation
type Order struct {
	Op    string `json:"op"`
	Order string `json:"order"`
}

// QuerySpec is the query_spec argument of the run_query tool
type QuerySpec struct {
	Calculations []Calculation `json:"calculations"`
	Breakdowns   []string      `json:"breakdowns,omitempty"`
	StartTime    int64         `json:"start_time"`
	EndTime      int64         `json:"end_time"`
	Filters      []Filter      `json:"filters,omitempty"`
	Orders       []Order       `json:"orders,omitempty"`
	Limit        int           `json:"limit,omitempty"`
}

const (
	opCount         = "COUNT"
	opCountDistinct = "COUNT_DISTINCT"
)

// countDistinctColumn is the result column name of COUNT_DISTINCT(column)
func countDistinctColumn(column string) string {
	return fmt.Sprintf("%s(%s)", opCountDistinct, column)
}

func exists(column string) Filter {
	return Filter{Column: column, Op: "exists"}
}

func equals(column string, value interface{}) Filter {
	return Filter{Column: column, Op: "=", Value: value}
}
