package similarity

import "strings"

// stopWords is a compact English stop list. Domain words such as "ice" and
// "agents" are deliberately absent.
var stopWords = toSet(`a about above after again against all also am an and any are as at
be because been before being below between both but by can could did do does doing down
during each few for from further had has have having he her here hers herself him himself
his how if in into is it its itself just me more most my myself no nor not now of off on
once only or other our ours ourselves out over own same she should so some such than that
the their theirs them themselves then there these they this those through to too under
until up very was we were what when where which while who whom why will with would you
your yours yourself yourselves rt via amp`)

func toSet(words string) map[string]bool {
	fields := strings.Fields(words)
	set := make(map[string]bool, len(fields))
	for _, w := range fields {
		set[w] = true
	}
	return set
}
