package revenue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

type stubCaller struct {
	payload string
	err     error
	sql     []string
}

func (s *stubCaller) CallTool(ctx context.Context, name string, args map[string]interface{}, weight interfaces.CallWeight) (string, error) {
	s.sql = append(s.sql, args["sql"].(string))
	return s.payload, s.err
}

const statsPayload = `{
  "success": true,
  "data": {"rows": [
    {"subscription_level": "\"PLAYER\"", "plan_type": "\"MONTHLY\"", "biz_type": "MEMBER", "amount": "9.99", "order_count": 3, "total_revenue": "29.97", "unique_users": 3},
    {"subscription_level": "\"PLAYER\"", "plan_type": "\"YEARLY\"", "biz_type": "MEMBER", "amount": "99.99", "order_count": 1, "total_revenue": "99.99", "unique_users": 1},
    {"subscription_level": "\"DEVELOPER\"", "plan_type": "\"MONTHLY\"", "biz_type": "MEMBER", "amount": "29.99", "order_count": 2, "total_revenue": "59.98", "unique_users": 2},
    {"subscription_level": null, "plan_type": null, "biz_type": "ENERGY", "amount": 6.99, "order_count": 2, "total_revenue": 13.98, "unique_users": 2},
    {"subscription_level": null, "plan_type": null, "biz_type": "ENERGY", "amount": "20.99", "order_count": 1, "total_revenue": "20.99", "unique_users": 1},
    {"subscription_level": null, "plan_type": null, "biz_type": "ARTICLE", "amount": "1.00", "order_count": 1, "total_revenue": "1.00", "unique_users": 1}
  ]}
}`

func TestAggregateStats(t *testing.T) {
	caller := &stubCaller{payload: statsPayload}
	s := NewService(common.NewDefaultConfig().Revenue, caller, arbor.NewLogger())

	stats, err := s.FetchRevenueStats(context.Background(), models.NewTimeInterval(1760486400, 1761091200))
	require.NoError(t, err)

	assert.Equal(t, 225.91, stats.TotalRevenue)
	assert.Equal(t, int64(10), stats.PayingUsers)
	assert.Equal(t, 22.59, stats.ARPU)
	assert.Equal(t, stats.ARPU, stats.ARPPU)

	assert.Equal(t, 129.96, stats.BasicRevenue)
	assert.Equal(t, int64(4), stats.BasicUsers)
	assert.Equal(t, 29.97, stats.BasicMonthlyRevenue)
	assert.Equal(t, 99.99, stats.BasicYearlyRevenue)
	assert.Equal(t, 59.98, stats.ProRevenue)
	assert.Equal(t, int64(2), stats.ProUsers)
	assert.Equal(t, 59.98, stats.ProMonthlyRevenue)
	assert.Equal(t, 0.0, stats.ProYearlyRevenue)
	assert.Equal(t, 189.94, stats.SubscriptionRevenue)

	assert.Equal(t, 34.97, stats.EnergyRevenue)
	assert.Equal(t, 13.98, stats.Energy500Revenue)
	assert.Equal(t, 20.99, stats.Energy2000Revenue)
	assert.Equal(t, 1.0, stats.ArticleRevenue)

	require.Len(t, caller.sql, 1)
	assert.Contains(t, caller.sql[0], "FROM my_shell_prod.user_subscription_stripe_orders")
	assert.Contains(t, caller.sql[0], "FROM_UNIXTIME(1760486400)")
	assert.Contains(t, caller.sql[0], "created_date < FROM_UNIXTIME(1761091200)")
}

func TestAggregateStats_Empty(t *testing.T) {
	stats, err := AggregateStats(nil)
	require.NoError(t, err)
	assert.Equal(t, models.RevenueStats{}, *stats)
}

func TestAggregateStats_BadAmount(t *testing.T) {
	_, err := AggregateStats([]models.Record{{"biz_type": "MEMBER", "amount": "n/a", "total_revenue": "1"}})
	assert.Error(t, err)
}

func TestFetchDailyRevenue(t *testing.T) {
	caller := &stubCaller{payload: `{"success": true, "data": [
		{"payment_date": "2025-10-16", "subscription_level": "\"DEVELOPER\"", "biz_type": "MEMBER", "amount": "29.99", "order_count": 1, "daily_revenue": "29.99", "daily_users": 1},
		{"payment_date": "2025-10-15", "subscription_level": "\"PLAYER\"", "biz_type": "MEMBER", "amount": "9.99", "order_count": 2, "daily_revenue": "19.98", "daily_users": 2},
		{"payment_date": "2025-10-15", "subscription_level": null, "biz_type": "ENERGY", "amount": "6.99", "order_count": 1, "daily_revenue": "6.99", "daily_users": 1},
		{"payment_date": "2025-10-16", "subscription_level": null, "biz_type": "ARTICLE", "amount": "0.50", "order_count": 1, "daily_revenue": "0.50", "daily_users": 1}
	]}`}
	s := NewService(common.NewDefaultConfig().Revenue, caller, arbor.NewLogger())

	daily, err := s.FetchDailyRevenue(context.Background(), models.NewTimeInterval(1760486400, 1760659200))
	require.NoError(t, err)

	require.Len(t, daily, 2)
	assert.Equal(t, models.DailyRevenue{
		Date:          "2025-10-15",
		TotalRevenue:  26.97,
		BasicRevenue:  19.98,
		EnergyRevenue: 6.99,
		PayingUsers:   3,
		OrderCount:    3,
	}, daily[0])
	assert.Equal(t, "2025-10-16", daily[1].Date)
	assert.Equal(t, 30.49, daily[1].TotalRevenue)
	assert.Equal(t, 29.99, daily[1].ProRevenue)
	assert.Equal(t, 0.5, daily[1].ArticleRevenue)

	assert.Contains(t, caller.sql[0], "DATE_FORMAT(created_date, '%Y-%m-%d')")
}

func TestFetchRevenue_Errors(t *testing.T) {
	tests := []struct {
		name    string
		caller  *stubCaller
		wantMsg string
	}{
		{
			name:    "sql failure",
			caller:  &stubCaller{payload: `{"success": false, "error": "permission denied"}`},
			wantMsg: "permission denied",
		},
		{
			name:    "transport failure",
			caller:  &stubCaller{err: errors.New("connect timeout after 30s")},
			wantMsg: "connect timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewService(common.NewDefaultConfig().Revenue, tt.caller, arbor.NewLogger())
			_, err := s.FetchRevenueStats(context.Background(), models.NewTimeInterval(0, 86400))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestMoney(t *testing.T) {
	a := mustMoney("0.1")
	b := mustMoney("0.2")
	assert.Equal(t, "0.3", a.Add(b).String())

	assert.True(t, mustMoney("6.985").Near(energy500Price))
	assert.False(t, mustMoney("7.00").Near(energy500Price))

	assert.Equal(t, 3.33, mustMoney("10").PerUser(3).Float64())
	assert.Equal(t, 0.0, mustMoney("10").PerUser(0).Float64())

	zero, err := ParseMoney("")
	require.NoError(t, err)
	assert.Equal(t, 0.0, zero.Float64())
}
