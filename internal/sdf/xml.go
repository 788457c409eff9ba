package sdf

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type modelConfigXML struct {
	XMLName xml.Name       `xml:"model"`
	Name    string         `xml:"name"`
	SDF     []sdfFileEntry `xml:"sdf"`
}

type sdfFileEntry struct {
	Version string `xml:"version,attr"`
	File    string `xml:",chardata"`
}

type sdfXML struct {
	XMLName xml.Name   `xml:"sdf"`
	Version string     `xml:"version,attr"`
	Models  []modelXML `xml:"model"`
	World   *worldXML  `xml:"world"`
}

type worldXML struct {
	Name   string     `xml:"name,attr"`
	Models []modelXML `xml:"model"`
}

type modelXML struct {
	Name     string       `xml:"name,attr"`
	Links    []linkXML    `xml:"link"`
	Joints   []jointXML   `xml:"joint"`
	Models   []modelXML   `xml:"model"`
	Includes []includeXML `xml:"include"`
}

type linkXML struct {
	Name string `xml:"name,attr"`
}

type jointXML struct {
	Name   string `xml:"name,attr"`
	Type   string `xml:"type,attr"`
	Parent string `xml:"parent"`
	Child  string `xml:"child"`
}

type includeXML struct {
	URI  string `xml:"uri"`
	Name string `xml:"name"`
}

func decodeModelConfig(r io.Reader) (*modelConfigXML, error) {
	var cfg modelConfigXML
	if err := xml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode model.config: %w", err)
	}
	return &cfg, nil
}

// newestSDF returns the file of the entry with the highest version.
func (c *modelConfigXML) newestSDF() string {
	best := ""
	var bestVersion []int
	for _, entry := range c.SDF {
		file := strings.TrimSpace(entry.File)
		if file == "" {
			continue
		}
		v := parseVersion(entry.Version)
		if best == "" || compareVersions(v, bestVersion) > 0 {
			best, bestVersion = file, v
		}
	}
	return best
}

func decodeSDF(r io.Reader) (*sdfXML, error) {
	var doc sdfXML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode sdf: %w", err)
	}
	return &doc, nil
}

// topModels returns the models declared at the top level of the document
// and inside its world, in document order.
func (d *sdfXML) topModels() []modelXML {
	models := append([]modelXML(nil), d.Models...)
	if d.World != nil {
		models = append(models, d.World.Models...)
	}
	return models
}

func (d *sdfXML) model(name string) (*modelXML, bool) {
	for _, m := range d.topModels() {
		if m.Name == name {
			m := m
			return &m, true
		}
	}
	return nil, false
}

func parseVersion(s string) []int {
	var out []int
	for _, part := range strings.Split(strings.TrimSpace(s), ".") {
		n, err := strconv.Atoi(part)
		if err != nil {
			n = 0
		}
		out = append(out, n)
	}
	return out
}

func compareVersions(a, b []int) int {
	for i := 0; i < len(a) || i < len(b); i++ {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}
