// Package revenue aggregates successful subscription, energy and article orders
// read from the billing store through the SQL tool.
package revenue

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
	"github.com/ternarybob/vigil/internal/services/decoder"
)

// Order classification values stored in the billing table
const (
	bizMember  = "MEMBER"
	bizEnergy  = "ENERGY"
	bizArticle = "ARTICLE"

	levelBasic = "PLAYER"
	levelPro   = "DEVELOPER"

	planMonthly = "MONTHLY"
	planYearly  = "YEARLY"
)

var (
	energy500Price  = mustMoney("6.99")
	energy2000Price = mustMoney("20.99")
)

const statsQuery = `SELECT
  JSON_EXTRACT(extra, '$.metadata.level') AS subscription_level,
  JSON_EXTRACT(extra, '$.metadata.plan_type') AS plan_type,
  biz_type,
  amount,
  COUNT(*) AS order_count,
  SUM(amount) AS total_revenue,
  COUNT(DISTINCT user_id) AS unique_users
FROM %s
WHERE status = 'ORDER_STATUS_SUCCESS'
  AND created_date >= FROM_UNIXTIME(%d)
  AND created_date < FROM_UNIXTIME(%d)
GROUP BY subscription_level, plan_type, biz_type, amount`

const dailyQuery = `SELECT
  DATE_FORMAT(created_date, '%%Y-%%m-%%d') AS payment_date,
  JSON_EXTRACT(extra, '$.metadata.level') AS subscription_level,
  JSON_EXTRACT(extra, '$.metadata.plan_type') AS plan_type,
  biz_type,
  amount,
  COUNT(*) AS order_count,
  SUM(amount) AS daily_revenue,
  COUNT(DISTINCT user_id) AS daily_users
FROM %s
WHERE status = 'ORDER_STATUS_SUCCESS'
  AND created_date >= FROM_UNIXTIME(%d)
  AND created_date < FROM_UNIXTIME(%d)
GROUP BY payment_date, subscription_level, plan_type, biz_type, amount
ORDER BY payment_date ASC`

// Service implements interfaces.RevenueService
type Service struct {
	cfg    common.RevenueConfig
	caller interfaces.ToolCaller
	logger arbor.ILogger
}

var _ interfaces.RevenueService = (*Service)(nil)

// NewService creates a revenue service
func NewService(cfg common.RevenueConfig, caller interfaces.ToolCaller, logger arbor.ILogger) *Service {
	return &Service{
		cfg:    cfg,
		caller: caller,
		logger: logger,
	}
}

// FetchRevenueStats returns revenue totals for interval
func (s *Service) FetchRevenueStats(ctx context.Context, interval models.TimeInterval) (*models.RevenueStats, error) {
	rows, err := s.execute(ctx, fmt.Sprintf(statsQuery, s.cfg.Table, interval.StartUnix(), interval.EndUnix()))
	if err != nil {
		return nil, fmt.Errorf("revenue stats: %w", err)
	}

	stats, err := AggregateStats(rows)
	if err != nil {
		return nil, fmt.Errorf("revenue stats: %w", err)
	}

	s.logger.Info().
		Int("rows", len(rows)).
		Float64("total_revenue", stats.TotalRevenue).
		Int64("paying_users", stats.PayingUsers).
		Msg("Revenue stats fetched")

	return stats, nil
}

// FetchDailyRevenue returns one entry per day in interval, ascending by date
func (s *Service) FetchDailyRevenue(ctx context.Context, interval models.TimeInterval) ([]models.DailyRevenue, error) {
	rows, err := s.execute(ctx, fmt.Sprintf(dailyQuery, s.cfg.Table, interval.StartUnix(), interval.EndUnix()))
	if err != nil {
		return nil, fmt.Errorf("daily revenue: %w", err)
	}

	daily, err := AggregateDaily(rows)
	if err != nil {
		return nil, fmt.Errorf("daily revenue: %w", err)
	}

	s.logger.Info().
		Int("rows", len(rows)).
		Int("days", len(daily)).
		Msg("Daily revenue fetched")

	return daily, nil
}

func (s *Service) execute(ctx context.Context, sql string) ([]models.Record, error) {
	payload, err := s.caller.CallTool(ctx, s.cfg.ToolName, map[string]interface{}{"sql": sql}, interfaces.CallHeavy)
	if err != nil {
		return nil, err
	}

	outcome, err := decoder.Decode(payload)
	if err != nil {
		return nil, err
	}

	return outcome.Records, nil
}

// orderRow is one grouped row of the billing query
type orderRow struct {
	date    string
	level   string
	plan    string
	biz     string
	amount  Money
	revenue Money
	orders  int64
	users   int64
}

func parseRow(r models.Record, revenueColumn, usersColumn string) (orderRow, error) {
	row := orderRow{
		date:  text(r, "payment_date"),
		level: text(r, "subscription_level"),
		plan:  text(r, "plan_type"),
		biz:   text(r, "biz_type"),
	}

	var err error
	if row.amount, err = ParseMoney(text(r, "amount")); err != nil {
		return row, err
	}
	if row.revenue, err = ParseMoney(text(r, revenueColumn)); err != nil {
		return row, err
	}
	if n, ok := r.Number("order_count"); ok {
		row.orders = int64(n)
	}
	if n, ok := r.Number(usersColumn); ok {
		row.users = int64(n)
	}
	return row, nil
}

// text returns a column as a string with JSON_EXTRACT quoting removed
func text(r models.Record, column string) string {
	s, _ := r.String(column)
	return strings.Trim(s, `"`)
}

// AggregateStats folds grouped order rows into range totals.
// Paying users is the sum of per-group distinct users, so a user in two
// groups is counted twice.
func AggregateStats(rows []models.Record) (*models.RevenueStats, error) {
	var (
		total, basic, pro, subscription, energy, article Money
		basicMonthly, basicYearly, proMonthly, proYearly  Money
		energy500, energy2000                             Money
		payingUsers, basicUsers, proUsers                 int64
	)

	for _, r := range rows {
		row, err := parseRow(r, "total_revenue", "unique_users")
		if err != nil {
			return nil, err
		}

		total = total.Add(row.revenue)
		payingUsers += row.users

		switch row.biz {
		case bizMember:
			subscription = subscription.Add(row.revenue)
			switch row.level {
			case levelBasic:
				basic = basic.Add(row.revenue)
				basicUsers += row.users
				switch row.plan {
				case planMonthly:
					basicMonthly = basicMonthly.Add(row.revenue)
				case planYearly:
					basicYearly = basicYearly.Add(row.revenue)
				}
			case levelPro:
				pro = pro.Add(row.revenue)
				proUsers += row.users
				switch row.plan {
				case planMonthly:
					proMonthly = proMonthly.Add(row.revenue)
				case planYearly:
					proYearly = proYearly.Add(row.revenue)
				}
			}
		case bizEnergy:
			energy = energy.Add(row.revenue)
			switch {
			case row.amount.Near(energy500Price):
				energy500 = energy500.Add(row.revenue)
			case row.amount.Near(energy2000Price):
				energy2000 = energy2000.Add(row.revenue)
			}
		case bizArticle:
			article = article.Add(row.revenue)
		}
	}

	arpu := total.PerUser(payingUsers).Float64()

	return &models.RevenueStats{
		TotalRevenue:        total.Float64(),
		PayingUsers:         payingUsers,
		ARPU:                arpu,
		ARPPU:               arpu, // every counted user paid
		BasicRevenue:        basic.Float64(),
		BasicUsers:          basicUsers,
		ProRevenue:          pro.Float64(),
		ProUsers:            proUsers,
		SubscriptionRevenue: subscription.Float64(),
		EnergyRevenue:       energy.Float64(),
		ArticleRevenue:      article.Float64(),
		BasicMonthlyRevenue: basicMonthly.Float64(),
		BasicYearlyRevenue:  basicYearly.Float64(),
		ProMonthlyRevenue:   proMonthly.Float64(),
		ProYearlyRevenue:    proYearly.Float64(),
		Energy500Revenue:    energy500.Float64(),
		Energy2000Revenue:   energy2000.Float64(),
	}, nil
}

type dayTotals struct {
	total, basic, pro, energy, article Money
	users, orders                      int64
}

// AggregateDaily folds grouped order rows into one entry per payment date
func AggregateDaily(rows []models.Record) ([]models.DailyRevenue, error) {
	days := make(map[string]*dayTotals)

	for _, r := range rows {
		row, err := parseRow(r, "daily_revenue", "daily_users")
		if err != nil {
			return nil, err
		}
		if row.date == "" {
			continue
		}

		day, ok := days[row.date]
		if !ok {
			day = &dayTotals{}
			days[row.date] = day
		}

		day.total = day.total.Add(row.revenue)
		day.orders += row.orders
		day.users += row.users

		switch row.biz {
		case bizMember:
			switch row.level {
			case levelBasic:
				day.basic = day.basic.Add(row.revenue)
			case levelPro:
				day.pro = day.pro.Add(row.revenue)
			}
		case bizEnergy:
			day.energy = day.energy.Add(row.revenue)
		case bizArticle:
			day.article = day.article.Add(row.revenue)
		}
	}

	daily := make([]models.DailyRevenue, 0, len(days))
	for date, day := range days {
		daily = append(daily, models.DailyRevenue{
			Date:           date,
			TotalRevenue:   day.total.Float64(),
			BasicRevenue:   day.basic.Float64(),
			ProRevenue:     day.pro.Float64(),
			EnergyRevenue:  day.energy.Float64(),
			ArticleRevenue: day.article.Float64(),
			PayingUsers:    day.users,
			OrderCount:     day.orders,
		})
	}

	sort.Slice(daily, func(i, j int) bool { return daily[i].Date < daily[j].Date })

	return daily, nil
}
