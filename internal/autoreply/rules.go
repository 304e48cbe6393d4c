package autoreply

import "strings"

// handoffTriggers are matched as substrings of the lowercased text.
var handoffTriggers = []string{
	"humano",
	"asesor",
	"vendedor",
	"persona",
	"quiero hablar",
	"atencion",
	"transferencia",
	"tarjeta",
	"pago",
	"envio",
	"dirección",
	"direccion",
}

// ShouldHandoff reports whether text asks for a human or touches a sensitive topic.
func ShouldHandoff(text string) bool {
	t := strings.ToLower(text)
	for _, trigger := range handoffTriggers {
		if strings.Contains(t, trigger) {
			return true
		}
	}
	return false
}
