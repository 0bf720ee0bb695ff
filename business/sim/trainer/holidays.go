package trainer

import (
	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/us"
	"time"
)

// holidayCalendar holds the US holidays recorded against training days, used
// to flag a demand-shape signal on the episode log. Adapted from
// aggregator/holidays.go's transitHolidayCalendar.
type holidayCalendar struct {
	calendar *cal.BusinessCalendar
}

// makeHolidayCalendar builds a holidayCalendar.
func makeHolidayCalendar() *holidayCalendar {
	calendar := cal.NewBusinessCalendar()
	calendar.AddHoliday(
		us.NewYear,
		us.MlkDay,
		us.MemorialDay,
		us.IndependenceDay,
		us.LaborDay,
		us.ThanksgivingDay,
		us.ChristmasDay,
		us.Juneteenth,
	)
	return &holidayCalendar{calendar: calendar}
}

// isHoliday returns true if at falls on an observed US holiday.
func (h *holidayCalendar) isHoliday(at time.Time) bool {
	_, observed, _ := h.calendar.IsHoliday(at)
	return observed
}
