package util

import "time"

// Now devolve o horário atual em UTC.
func Now() time.Time {
	return time.Now().UTC()
}
