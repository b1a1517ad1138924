package bus

import "fmt"

const (
	kb = int64(1) << 10
	mb = kb << 10
	gb = mb << 10
	tb = gb << 10
)

// FormatBytes renders a byte count for progress display: whole bytes and KB,
// then one, two and three decimals for MB, GB and TB. A nil count renders as
// the empty string.
func FormatBytes(n *int64) string {
	if n == nil {
		return ""
	}
	v := *n
	switch {
	case v < kb:
		return fmt.Sprintf("%d B", v)
	case v < mb:
		return fmt.Sprintf("%.0f KB", float64(v)/float64(kb))
	case v < gb:
		return fmt.Sprintf("%.1f MB", float64(v)/float64(mb))
	case v < tb:
		return fmt.Sprintf("%.2f GB", float64(v)/float64(gb))
	default:
		return fmt.Sprintf("%.3f TB", float64(v)/float64(tb))
	}
}
