package styles

// Status icons. Plain unicode so reports render without a Nerd Font.
const (
	IconSuccess  = "✔"
	IconError    = "✘"
	IconWarning  = "⚠"
	IconInfo     = "ℹ"
	IconPending  = "…"
	IconRollback = "↺"

	IconBullet = "▸"
	IconArrow  = "→"
)
