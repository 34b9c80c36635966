package composefile

import "gopkg.in/yaml.v3"

func styleFor(name string) yaml.Style {
	switch name {
	case "single":
		return yaml.SingleQuotedStyle
	case "double":
		return yaml.DoubleQuotedStyle
	}
	return 0
}
