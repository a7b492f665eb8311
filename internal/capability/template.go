package capability

import (
	"fmt"
	"strings"
)

// Expand substitutes {{name}} placeholders with values from the trigger
// output. Unknown placeholders are left untouched.
func Expand(text string, values map[string]any) string {
	if len(values) == 0 || !strings.Contains(text, "{{") {
		return text
	}
	for name, value := range values {
		placeholder := "{{" + name + "}}"
		if strings.Contains(text, placeholder) {
			text = strings.ReplaceAll(text, placeholder, fmt.Sprint(value))
		}
	}
	return text
}
