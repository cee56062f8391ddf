package audio

import "time"

// BytesPerMinute approximates compressed voice audio when the container has no duration
const BytesPerMinute = 1 << 20

// EstimateDuration guesses audio length from its size
func EstimateDuration(size int64) time.Duration {
	if size <= 0 {
		return 0
	}
	return time.Duration(float64(size) / BytesPerMinute * float64(time.Minute))
}
