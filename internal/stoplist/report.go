package stoplist

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Paradize0404/bot-work/internal/timeutil"
)

// Working window of the restaurants; time in stop outside it is not billed
// to the kitchen.
const (
	workdayStartHour = 8
	workdayEndHour   = 21
)

// ProductStat is one product's accumulated time in stop today.
type ProductStat struct {
	ProductID    string
	Name         string
	TotalSeconds int
}

// DailyStats sums every product's time in stop within today's working
// window. Open intervals count up to now.
func (s *Service) DailyStats(ctx context.Context) ([]ProductStat, error) {
	now := timeutil.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), workdayStartHour, 0, 0, 0, now.Location())
	dayEnd := time.Date(now.Year(), now.Month(), now.Day(), workdayEndHour, 0, 0, 0, now.Location())

	rows, err := s.q.Query(ctx, `
		SELECT product_id, COALESCE(name, '[?]'), started_at, ended_at
		FROM stoplist_history
		WHERE started_at < $1 AND (ended_at IS NULL OR ended_at > $2)`,
		dayEnd, dayStart)
	if err != nil {
		return nil, fmt.Errorf("daily stoplist stats: %w", err)
	}
	defer rows.Close()

	byProduct := map[string]*ProductStat{}
	for rows.Next() {
		var (
			pid, name string
			started   time.Time
			ended     *time.Time
		)
		if err := rows.Scan(&pid, &name, &started, &ended); err != nil {
			return nil, err
		}
		// Intersect [started, ended] with the working window.
		from := started
		if from.Before(dayStart) {
			from = dayStart
		}
		to := now
		if ended != nil {
			to = *ended
		}
		if to.After(dayEnd) {
			to = dayEnd
		}
		if !to.After(from) {
			continue
		}
		st, ok := byProduct[pid]
		if !ok {
			st = &ProductStat{ProductID: pid, Name: name}
			byProduct[pid] = st
		}
		st.TotalSeconds += int(to.Sub(from).Seconds())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats := make([]ProductStat, 0, len(byProduct))
	for _, st := range byProduct {
		stats = append(stats, *st)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].TotalSeconds != stats[j].TotalSeconds {
			return stats[i].TotalSeconds > stats[j].TotalSeconds
		}
		return stats[i].Name < stats[j].Name
	})
	return stats, nil
}

func formatDuration(seconds int) string {
	if seconds <= 0 {
		return "00:00"
	}
	return fmt.Sprintf("%02d:%02d", seconds/3600, (seconds%3600)/60)
}

// BuildDailyReport renders the 22:00 report.
func BuildDailyReport(stats []ProductStat) string {
	lines := []string{
		fmt.Sprintf("📊 Отчёт по стоп-листу за %s", timeutil.DateDMY(timeutil.Now())),
		"",
	}
	if len(stats) == 0 {
		lines = append(lines, "Сегодня стопов не было 🎉")
		return strings.Join(lines, "\n")
	}

	total := 0
	for i, st := range stats {
		if i == listLimit {
			lines = append(lines, fmt.Sprintf("...и ещё %d позиций", len(stats)-listLimit))
			break
		}
		total += st.TotalSeconds
		lines = append(lines, fmt.Sprintf("▫️ %s — %s", st.Name, formatDuration(st.TotalSeconds)))
	}
	// Positions beyond the display cap still count into the total.
	for i := listLimit; i < len(stats); i++ {
		total += stats[i].TotalSeconds
	}
	lines = append(lines, "",
		fmt.Sprintf("Всего позиций в стопе сегодня: %d", len(stats)),
		fmt.Sprintf("Суммарное время: %s", formatDuration(total)))
	return truncate(strings.Join(lines, "\n"))
}
