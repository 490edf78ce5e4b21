package conversation

import "time"

// JST is the fixed zone every timestamp shown to the model is rendered in
var JST = time.FixedZone("JST", 9*60*60)

func formatTime(t time.Time) string {
	return t.In(JST).Format(time.RFC3339)
}
