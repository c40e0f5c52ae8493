package slides

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"
)

type presentationXML struct {
	SlideIDs []struct {
		RelID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
	} `xml:"sldIdLst>sldId"`
}

type relationshipsXML struct {
	Relationships []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

// slideXML keeps only direct p:sp children of the shape tree; group shapes,
// graphic frames and pictures are skipped.
type slideXML struct {
	Shapes []struct {
		TxBody *struct {
			Paragraphs []struct {
				Runs []struct {
					Text string `xml:"t"`
				} `xml:"r"`
			} `xml:"p"`
		} `xml:"txBody"`
	} `xml:"cSld>spTree>sp"`
}

func extractPPTX(r io.ReaderAt, size int64) ([]Slide, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("opening pptx archive: %w", err)
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	var pres presentationXML
	if err := decodeXML(files, "ppt/presentation.xml", &pres); err != nil {
		return nil, err
	}
	var rels relationshipsXML
	if err := decodeXML(files, "ppt/_rels/presentation.xml.rels", &rels); err != nil {
		return nil, err
	}
	targets := make(map[string]string, len(rels.Relationships))
	for _, rel := range rels.Relationships {
		targets[rel.ID] = resolveTarget("ppt", rel.Target)
	}

	var result []Slide
	for i, id := range pres.SlideIDs {
		target, ok := targets[id.RelID]
		if !ok {
			return nil, fmt.Errorf("slide %d: relationship %q not found", i+1, id.RelID)
		}
		var sld slideXML
		if err := decodeXML(files, target, &sld); err != nil {
			return nil, fmt.Errorf("slide %d: %w", i+1, err)
		}

		var raw []string
		for _, sp := range sld.Shapes {
			if sp.TxBody == nil {
				continue
			}
			for _, p := range sp.TxBody.Paragraphs {
				for _, run := range p.Runs {
					raw = append(raw, run.Text)
				}
			}
		}
		if texts := cleanTexts(raw); len(texts) > 0 {
			result = append(result, Slide{Number: i + 1, Texts: texts})
		}
	}
	return result, nil
}

func decodeXML(files map[string]*zip.File, name string, v any) error {
	f, ok := files[name]
	if !ok {
		return fmt.Errorf("pptx part %s missing", name)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", name, err)
	}
	defer rc.Close()

	if err := xml.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	return nil
}

// resolveTarget turns a relationship target into a package part name. Targets
// are relative to the source part's directory unless they start with "/".
func resolveTarget(baseDir, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(path.Clean(target), "/")
	}
	return path.Clean(path.Join(baseDir, target))
}
