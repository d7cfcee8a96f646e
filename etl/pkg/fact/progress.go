package fact

// Progress is one progress update emitted during fact generation: at least
// once per processed row and once at completion.
type Progress struct {
	CurrentTable     string `json:"current_table"`
	TotalRecords     int    `json:"total_records"`
	ProcessedRecords int    `json:"processed_records"`
	Status           string `json:"status"`
}

// Progress status values.
const (
	StatusProcessing = "Processing"
	StatusComplete   = "Complete"
)

// ProgressFunc receives progress updates. A nil ProgressFunc disables
// reporting; implementations must not block, the generator calls them
// inline on the row loop.
type ProgressFunc func(Progress)
