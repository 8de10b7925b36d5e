package sliding

// HourStat counts hits per minute of a single anchor hour. It is the
// bounded per-IP datum behind the trailing-window threshold check: O(1)
// state, O(window) queries.
//
// Counters belong to one anchor hour only. A jump of more than one hour
// resets them, and the minute wrap in Sum is purely numeric, so windows
// that straddle an hour boundary under-count the previous hour. The hours
// 23 and 0 compare as far apart.
type HourStat struct {
	hour    uint8
	minutes [60]uint32
}

// NewHourStat creates a stat anchored at hour with count hits recorded in
// minute.
func NewHourStat(hour, minute uint8, count uint32) *HourStat {
	hs := &HourStat{hour: hour}
	hs.minutes[minute] += count
	return hs
}

// Hour returns the current anchor hour.
func (hs *HourStat) Hour() uint8 {
	return hs.hour
}

// Add records count hits at hour:minute. If hour is more than one away
// from the anchor all counters are cleared first; the anchor always moves
// to hour.
func (hs *HourStat) Add(hour, minute uint8, count uint32) {
	if absDifference(hs.hour, hour) > 1 {
		hs.minutes = [60]uint32{}
	}
	hs.hour = hour
	hs.minutes[minute] += count
}

// Sum returns the number of hits in the trailing window of the given width
// ending at hour:minute. Returns 0 when hour is more than one away from the
// anchor.
func (hs *HourStat) Sum(hour, minute, window uint8) uint32 {
	if absDifference(hs.hour, hour) > 1 {
		return 0
	}
	if window > 60 {
		window = 60
	}
	var total uint32
	for i := uint8(0); i < window; i++ {
		idx := minute - i
		if minute < i {
			idx = 60 + minute - i
		}
		total += hs.minutes[idx]
	}
	return total
}

func absDifference(a, b uint8) uint8 {
	if a >= b {
		return a - b
	}
	return b - a
}
