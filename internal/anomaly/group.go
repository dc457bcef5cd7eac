package anomaly

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/smallbiznis/carlot/internal/inventory/domain"
)

type Sample = domain.PriceSample

// DefaultGroupBy is the grouping used when none is configured.
var DefaultGroupBy = []string{"manufacturer", "model", "year"}

var groupFields = map[string]func(Sample) string{
	"manufacturer": func(s Sample) string { return s.Manufacturer },
	"model":        func(s Sample) string { return s.Model },
	"badge":        func(s Sample) string { return s.Badge },
	"year":         func(s Sample) string { return strconv.Itoa(s.Year) },
	"fuel":         func(s Sample) string { return s.Fuel },
	"body":         func(s Sample) string { return s.Body },
}

// Group is one set of comparable cars.
type Group struct {
	Key     string
	Samples []Sample
}

// ValidateGroupBy rejects unknown field names.
func ValidateGroupBy(fields []string) error {
	if len(fields) == 0 {
		return fmt.Errorf("group by needs at least one field")
	}
	for _, f := range fields {
		if _, ok := groupFields[normalizeField(f)]; !ok {
			return fmt.Errorf("unknown group by field %q", f)
		}
	}
	return nil
}

func normalizeField(f string) string {
	f = strings.ToLower(strings.TrimSpace(f))
	if f == "mark" {
		return "manufacturer"
	}
	return f
}

// GroupSamples partitions samples by the given fields. Groups are ordered by
// key so output is stable.
func GroupSamples(samples []Sample, fields []string) ([]Group, error) {
	if len(fields) == 0 {
		fields = DefaultGroupBy
	}
	if err := ValidateGroupBy(fields); err != nil {
		return nil, err
	}
	getters := make([]func(Sample) string, len(fields))
	for i, f := range fields {
		getters[i] = groupFields[normalizeField(f)]
	}

	index := map[string]int{}
	var groups []Group
	parts := make([]string, len(getters))
	for _, s := range samples {
		for i, get := range getters {
			parts[i] = get(s)
		}
		key := strings.Join(parts, "|")
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Samples = append(groups[i].Samples, s)
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a].Key < groups[b].Key })
	return groups, nil
}
