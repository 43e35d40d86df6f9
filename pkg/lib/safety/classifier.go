// Package safety classifies processes by how safe it is to force-terminate them.
package safety

import (
	"strings"
	"sync"

	"github.com/antler-hat/devolume/pkg/lib"
)

// Classifier looks observed process names up in a fixed descriptor table.
// It is immutable after construction and safe for concurrent use.
type Classifier struct {
	// exact maps every lowercase alias to an index into ordered
	exact map[string]int
	// ordered drives the prefix fallback; list order breaks ties
	ordered []lib.ProcessDescriptor
}

// New builds a Classifier from descriptors. When two descriptors share an
// alias the earlier one owns it.
func New(descriptors []lib.ProcessDescriptor) *Classifier {
	c := &Classifier{
		exact:   make(map[string]int),
		ordered: make([]lib.ProcessDescriptor, len(descriptors)),
	}
	for i, d := range descriptors {
		names := make([]string, len(d.Names))
		for j, n := range d.Names {
			names[j] = strings.ToLower(n)
			if _, taken := c.exact[names[j]]; !taken {
				c.exact[names[j]] = i
			}
		}
		d.Names = names
		c.ordered[i] = d
	}
	return c
}

var (
	defaultOnce       sync.Once
	defaultClassifier *Classifier
)

// Default returns the Classifier over the built-in descriptor table.
func Default() *Classifier {
	defaultOnce.Do(func() {
		defaultClassifier = New(builtinDescriptors)
	})
	return defaultClassifier
}

// Classify returns the safety tier for an observed process name and the
// descriptor that matched, if any. Exact alias matches win; otherwise the
// first descriptor (in table order) with an alias that is a prefix of the
// name, or that the name is a prefix of, is used. OS-truncated names are
// caught either way.
func (c *Classifier) Classify(name string) (lib.Safety, *lib.ProcessDescriptor) {
	p := strings.ToLower(name)
	if p == "" {
		return lib.SafetyUnknown, nil
	}

	if i, ok := c.exact[p]; ok {
		return c.ordered[i].Safety, c.descriptor(i)
	}

	for i, d := range c.ordered {
		for _, alias := range d.Names {
			if strings.HasPrefix(p, alias) || strings.HasPrefix(alias, p) {
				return d.Safety, c.descriptor(i)
			}
		}
	}

	return lib.SafetyUnknown, nil
}

// Descriptors returns a copy of the table in lookup order.
func (c *Classifier) Descriptors() []lib.ProcessDescriptor {
	out := make([]lib.ProcessDescriptor, len(c.ordered))
	for i := range c.ordered {
		out[i] = *c.descriptor(i)
	}
	return out
}

func (c *Classifier) descriptor(i int) *lib.ProcessDescriptor {
	d := c.ordered[i]
	d.Names = append([]string(nil), d.Names...)
	return &d
}
