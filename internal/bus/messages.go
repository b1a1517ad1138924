package bus

// Subscription groups. Browser clients attach to one group per socket.
const (
	GroupUpdates = "updates"
	GroupDragons = "dragons"
)

// Message kinds carried in the envelope "type" field.
const (
	KindNotification = "notification"
	KindDownload     = "download"
	KindLog          = "log"
	KindRecipe       = "recipe"
)

// Notification colors map onto the frontend alert palette.
const (
	ColorPrimary = "primary"
	ColorSuccess = "success"
	ColorWarning = "warning"
	ColorDanger  = "danger"
)

// Notification is a one-shot user-facing message on the updates group.
type Notification struct {
	Kind     string `json:"type"`
	UniqueID string `json:"unique_id"`
	Label    string `json:"label"`
	Color    string `json:"color"`
	Message  string `json:"message"`
}

// DownloadUpdate reports archive download progress on the updates group.
type DownloadUpdate struct {
	Kind            string `json:"type"`
	UniqueID        string `json:"unique_id"`
	Label           string `json:"label"`
	Status          string `json:"status"`
	DownloadedBytes string `json:"downloaded_bytes"`
	Message         string `json:"message"`
	Done            bool   `json:"done"`
	Error           bool   `json:"error"`
}

// LogRecord carries one pipeline log line on the dragons group.
type LogRecord struct {
	Kind     string `json:"type"`
	RunID    int64  `json:"run_id"`
	RecipeID int64  `json:"recipe_id"`
	ReduceID int64  `json:"reduce_id"`
	Message  string `json:"message"`
}

// RecipeProgress reports reduction status changes on the dragons group.
type RecipeProgress struct {
	Kind     string `json:"type"`
	RunID    int64  `json:"run_id"`
	RecipeID int64  `json:"recipe_id"`
	ReduceID int64  `json:"reduce_id"`
	Status   string `json:"status"`
}
