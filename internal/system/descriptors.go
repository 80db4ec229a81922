package system

import (
	"sort"
	"strings"

	core "github.com/deepresearch/engine/internal/core/service"
)

// CollectDescriptors extracts service descriptors, skipping nil entries, and
// sorts them by layer then name for deterministic presentation.
func CollectDescriptors(providers []DescriptorProvider) []core.Descriptor {
	var out []core.Descriptor
	for _, p := range providers {
		if p == nil {
			continue
		}
		out = append(out, normalizeDescriptor(p.Descriptor()))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Layer == out[j].Layer {
			return out[i].Name < out[j].Name
		}
		return out[i].Layer < out[j].Layer
	})
	return out
}

func normalizeDescriptor(d core.Descriptor) core.Descriptor {
	d.Name = strings.TrimSpace(d.Name)
	d.Domain = strings.TrimSpace(d.Domain)
	layer := strings.TrimSpace(string(d.Layer))
	if layer == "" {
		layer = string(core.LayerEngine)
	}
	d.Layer = core.Layer(layer)
	d.Capabilities = dedupeStrings(d.Capabilities)
	return d
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}
