package services

import "time"

// AddBusinessMinutes 从 start 起只在工作时段（工作日 startHour:00 至 endHour:00）
// 消耗分钟预算，返回预算耗尽的时刻。周末与下班时间会滚动到下一个工作时段起点。
func AddBusinessMinutes(start time.Time, minutes, startHour, endHour int) time.Time {
	cursor := start
	remaining := time.Duration(minutes) * time.Minute

	for remaining > 0 {
		cursor = skipToBusinessHours(cursor, startHour, endHour)

		dayEnd := time.Date(cursor.Year(), cursor.Month(), cursor.Day(), endHour, 0, 0, 0, cursor.Location())
		available := dayEnd.Sub(cursor)
		if available >= remaining {
			return cursor.Add(remaining)
		}
		cursor = dayEnd
		remaining -= available
	}
	return cursor
}

// skipToBusinessHours 将游标移动到下一个可计时的工作时刻
func skipToBusinessHours(cursor time.Time, startHour, endHour int) time.Time {
	for {
		if cursor.Weekday() == time.Saturday || cursor.Weekday() == time.Sunday {
			cursor = nextDayAt(cursor, startHour)
			continue
		}
		if cursor.Hour() < startHour {
			return time.Date(cursor.Year(), cursor.Month(), cursor.Day(), startHour, 0, 0, 0, cursor.Location())
		}
		if cursor.Hour() >= endHour {
			cursor = nextDayAt(cursor, startHour)
			continue
		}
		return cursor
	}
}

func nextDayAt(t time.Time, hour int) time.Time {
	next := t.AddDate(0, 0, 1)
	return time.Date(next.Year(), next.Month(), next.Day(), hour, 0, 0, 0, t.Location())
}
