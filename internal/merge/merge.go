// Package merge splices several PPTX containers into one: slides, their
// relationship parts and media from the other decks are appended to the
// base deck, and the presentation part plus its relationships are patched
// with new slide and relationship IDs.
package merge

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const slideRelType = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/slide"

var (
	slideNameRe  = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
	sldIDRe      = regexp.MustCompile(`<p:sldId[^>]*\sid="(\d+)"`)
	rIDRe        = regexp.MustCompile(`Id="rId(\d+)"`)
	mediaIndexRe = regexp.MustCompile(`^ppt/media/[^0-9]*(\d+)\.`)
)

// Merge appends every slide of the other decks to the base deck and writes
// the combined presentation to outPath. Slide order within each source
// deck is preserved; ID and relationship numbering continues from the
// base's maxima.
func Merge(basePath string, others []string, outPath string) error {
	base, err := readArchive(basePath)
	if err != nil {
		return fmt.Errorf("read base deck: %w", err)
	}

	presXML, ok := base.contents["ppt/presentation.xml"]
	if !ok {
		return fmt.Errorf("%s: not a presentation (missing ppt/presentation.xml)", basePath)
	}
	relsXML, ok := base.contents["ppt/_rels/presentation.xml.rels"]
	if !ok {
		return fmt.Errorf("%s: missing presentation relationships", basePath)
	}

	slideCount := len(slideNames(base.names))
	lastSldID := maxMatch(sldIDRe, string(presXML))
	lastRID := maxMatch(rIDRe, string(relsXML))
	nextMedia := maxMediaIndex(base.names) + 1

	var sldIDEntries, relEntries strings.Builder
	for _, deckPath := range others {
		other, err := readArchive(deckPath)
		if err != nil {
			return fmt.Errorf("read deck %s: %w", deckPath, err)
		}

		// Media first: a name collision with different bytes gets a fresh
		// number so the incoming slides cannot pick up the base's image;
		// identical bytes share the base copy.
		renames := make(map[string]string)
		for _, name := range other.names {
			if !strings.HasPrefix(name, "ppt/media/") {
				continue
			}
			existing, exists := base.contents[name]
			switch {
			case !exists:
				base.append(name, other.contents[name])
			case bytes.Equal(existing, other.contents[name]):
			default:
				newName := base.nextMediaName(&nextMedia, path.Ext(name))
				base.append(newName, other.contents[name])
				renames[strings.TrimPrefix(name, "ppt/media/")] = strings.TrimPrefix(newName, "ppt/media/")
			}
		}

		for _, name := range slideNames(other.names) {
			slideCount++
			lastSldID++
			lastRID++
			newName := fmt.Sprintf("ppt/slides/slide%d.xml", slideCount)
			base.append(newName, other.contents[name])

			// slide-level rels (layout reference, images) travel with the slide
			oldRels := "ppt/slides/_rels/" + strings.TrimPrefix(name, "ppt/slides/") + ".rels"
			if rels, ok := other.contents[oldRels]; ok {
				base.append(fmt.Sprintf("ppt/slides/_rels/slide%d.xml.rels", slideCount),
					[]byte(retargetMedia(string(rels), renames)))
			}

			fmt.Fprintf(&sldIDEntries, `<p:sldId id="%d" r:id="rId%d"/>`, lastSldID, lastRID)
			fmt.Fprintf(&relEntries,
				`<Relationship Id="rId%d" Type="%s" Target="slides/slide%d.xml"/>`,
				lastRID, slideRelType, slideCount)
		}
	}

	base.contents["ppt/presentation.xml"] = []byte(insertBefore(string(presXML), "</p:sldIdLst>", sldIDEntries.String()))
	base.contents["ppt/_rels/presentation.xml.rels"] = []byte(insertBefore(string(relsXML), "</Relationships>", relEntries.String()))

	return base.write(outPath)
}

// archive is an in-memory zip: contents keyed by entry name, names keeps
// the original entry order.
type archive struct {
	names    []string
	contents map[string][]byte
}

func readArchive(path string) (*archive, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	a := &archive{contents: make(map[string][]byte, len(zr.File))}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open entry %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read entry %s: %w", f.Name, err)
		}
		a.append(f.Name, data)
	}
	return a, nil
}

func (a *archive) append(name string, data []byte) {
	if _, exists := a.contents[name]; !exists {
		a.names = append(a.names, name)
	}
	a.contents[name] = data
}

// nextMediaName returns the first unused numbered media entry name,
// advancing the counter past any name already taken.
func (a *archive) nextMediaName(n *int, ext string) string {
	for {
		name := fmt.Sprintf("ppt/media/image%d%s", *n, ext)
		*n++
		if _, taken := a.contents[name]; !taken {
			return name
		}
	}
}

func (a *archive) write(path string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, name := range a.names {
		w, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("create entry %s: %w", name, err)
		}
		if _, err := w.Write(a.contents[name]); err != nil {
			return fmt.Errorf("write entry %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize zip: %w", err)
	}
	return nil
}

// slideNames returns the slide entries in their numeric order.
func slideNames(names []string) []string {
	type numbered struct {
		name string
		n    int
	}
	var slides []numbered
	for _, name := range names {
		if m := slideNameRe.FindStringSubmatch(name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides = append(slides, numbered{name, n})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	result := make([]string, len(slides))
	for i, s := range slides {
		result[i] = s.name
	}
	return result
}

// maxMediaIndex returns the largest numeric suffix among media entry
// names, 0 if there are none.
func maxMediaIndex(names []string) int {
	max := 0
	for _, name := range names {
		if m := mediaIndexRe.FindStringSubmatch(name); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > max {
				max = n
			}
		}
	}
	return max
}

// retargetMedia rewrites media references in a slide rels part to follow
// renamed media entries.
func retargetMedia(rels string, renames map[string]string) string {
	for oldName, newName := range renames {
		rels = strings.ReplaceAll(rels, "media/"+oldName, "media/"+newName)
	}
	return rels
}

// maxMatch returns the largest captured integer for re in text, 0 if none.
func maxMatch(re *regexp.Regexp, text string) int {
	max := 0
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > max {
			max = n
		}
	}
	return max
}

func insertBefore(doc, marker, insertion string) string {
	idx := strings.Index(doc, marker)
	if idx == -1 {
		return doc + insertion
	}
	return doc[:idx] + insertion + doc[idx:]
}
