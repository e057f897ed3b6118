// Package detector classifies an input blob into one of the supported
// statement formats using magic bytes and structural probes, falling back to
// caller hints only when the content itself is inconclusive.
package detector

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/FACorreiaa/statement-ingest/internal/canonical"
)

var (
	pdfMagic      = []byte("%PDF-")
	utf8BOM       = []byte{0xEF, 0xBB, 0xBF}
	camtNamespace = regexp.MustCompile(`urn:iso:std:iso:20022:tech:xsd:camt\.0(\d\d)\.`)
	xmlRootRe     = regexp.MustCompile(`<([A-Za-z][A-Za-z0-9]*)[\s>]`)
	bai2Codes     = map[string]bool{
		"01": true, "02": true, "03": true, "16": true,
		"49": true, "88": true, "98": true, "99": true,
	}
)

// Detect classifies data. Hints never override a successful structural match;
// they only break the tie when no probe succeeds. Two conflicting
// format-specific probe successes return an ambiguous_format error rather
// than a silent guess; the generic CSV probe never competes with them.
func Detect(data []byte, filenameHint, contentTypeHint string) (canonical.SourceFormat, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return canonical.FormatUnknown, &canonical.Error{
			Kind: canonical.KindUnsupportedFormat,
			Hint: "input is empty",
		}
	}

	// PDF magic bytes are decisive: no text probe can also match a PDF body.
	if bytes.HasPrefix(data, pdfMagic) {
		return canonical.FormatPDF, nil
	}

	text := string(bytes.TrimPrefix(data, utf8BOM))

	type hit struct {
		kind  canonical.SourceFormat
		probe string
	}
	var hits []hit

	if kind, probe, ok := probeXML(text); ok {
		if kind == canonical.FormatUnknown {
			// Well-formed XML with a root we do not handle.
			return canonical.FormatUnknown, &canonical.Error{
				Kind:   canonical.KindUnsupportedFormat,
				Hint:   "XML document with unrecognized root element",
				Probes: []string{probe},
			}
		}
		hits = append(hits, hit{kind, probe})
	}
	if probe, ok := probeOFXHeader(text); ok {
		hits = append(hits, hit{canonical.FormatOFX, probe})
	}
	if probe, ok := probeMT940(text); ok {
		hits = append(hits, hit{canonical.FormatMT940, probe})
	}
	if probe, ok := probeBAI2(text); ok {
		hits = append(hits, hit{canonical.FormatBAI2, probe})
	}
	// The CSV probe is generic: any line-stable delimiter satisfies it, and
	// MT940 comma-decimal amounts or BAI2 field commas are exactly that. It
	// only runs when no format-specific probe claimed the file.
	if len(hits) == 0 {
		if probe, ok := probeCSV(text); ok {
			hits = append(hits, hit{canonical.FormatCSV, probe})
		}
	}

	switch len(hits) {
	case 1:
		return hits[0].kind, nil
	case 0:
		// Fall through to hints.
	default:
		probes := make([]string, 0, len(hits))
		distinct := map[canonical.SourceFormat]bool{}
		for _, h := range hits {
			probes = append(probes, h.probe)
			distinct[h.kind] = true
		}
		if len(distinct) > 1 {
			return canonical.FormatUnknown, &canonical.Error{
				Kind:   canonical.KindAmbiguousFormat,
				Hint:   "multiple structural probes matched with conflicting results",
				Probes: probes,
			}
		}
		return hits[0].kind, nil
	}

	if kind, ok := kindFromContentType(contentTypeHint); ok {
		return kind, nil
	}
	if kind, ok := kindFromExtension(filenameHint); ok {
		return kind, nil
	}

	return canonical.FormatUnknown, &canonical.Error{
		Kind: canonical.KindUnsupportedFormat,
		Hint: "no structural probe matched and no usable hint was provided",
	}
}

// probeXML distinguishes CAMT from OFX-XML by root element and namespace.
func probeXML(text string) (canonical.SourceFormat, string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "<?xml") && !strings.HasPrefix(trimmed, "<") {
		return canonical.FormatUnknown, "", false
	}
	// Skip declaration and comments to the first element.
	body := trimmed
	if i := strings.Index(body, "?>"); strings.HasPrefix(body, "<?xml") && i >= 0 {
		body = strings.TrimSpace(body[i+2:])
	}
	m := xmlRootRe.FindStringSubmatch(body)
	if m == nil {
		return canonical.FormatUnknown, "", false
	}
	root := m[1]
	switch {
	case root == "Document" && camtNamespace.MatchString(trimmed):
		return canonical.FormatCAMT, "xml-root=Document camt-namespace", true
	case strings.EqualFold(root, "OFX"):
		return canonical.FormatOFX, "xml-root=OFX", true
	case root == "Document":
		// ISO 20022 root without a camt namespace: XML, but not ours.
		return canonical.FormatUnknown, "xml-root=Document no-camt-namespace", true
	}
	return canonical.FormatUnknown, "", false
}

// probeOFXHeader matches the legacy SGML banner ("OFXHEADER:100").
func probeOFXHeader(text string) (string, bool) {
	for _, line := range firstLines(text, 10) {
		if strings.HasPrefix(strings.ToUpper(line), "OFXHEADER:") {
			return "sgml-banner=OFXHEADER", true
		}
	}
	return "", false
}

// probeMT940 looks for the :20: transaction reference tag at a line start,
// optionally preceded by a SWIFT block envelope.
func probeMT940(text string) (string, bool) {
	for _, line := range firstLines(text, 20) {
		if strings.HasPrefix(line, ":20:") {
			return "mt940-tag=:20:", true
		}
		if strings.HasPrefix(line, "{1:") && strings.Contains(text, ":20:") {
			return "swift-envelope+:20:", true
		}
	}
	return "", false
}

// probeBAI2 requires the file header record code 01 in the leading columns and
// a strong majority of known record-type codes on the sampled lines.
func probeBAI2(text string) (string, bool) {
	lines := firstLines(text, 20)
	if len(lines) == 0 || !strings.HasPrefix(lines[0], "01,") {
		return "", false
	}
	known := 0
	for _, line := range lines {
		if len(line) >= 3 && line[2] == ',' && bai2Codes[line[:2]] {
			known++
		}
	}
	if known*5 >= len(lines)*4 { // >= 80%
		return "bai2-record-codes", true
	}
	return "", false
}

// probeCSV accepts text whose sampled lines keep a stable column count for one
// of the candidate delimiters.
func probeCSV(text string) (string, bool) {
	lines := firstLines(text, 20)
	if len(lines) < 2 {
		return "", false
	}
	for _, delim := range []string{";", "\t", ",", "|"} {
		counts := map[int]int{}
		for _, line := range lines {
			if n := strings.Count(line, delim); n > 0 {
				counts[n]++
			}
		}
		for n, freq := range counts {
			if n >= 1 && freq >= 2 && freq*2 >= len(lines) {
				return "csv-delimiter=" + delim, true
			}
		}
	}
	return "", false
}

func kindFromContentType(ct string) (canonical.SourceFormat, bool) {
	switch strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0])) {
	case "application/pdf":
		return canonical.FormatPDF, true
	case "text/csv", "application/csv":
		return canonical.FormatCSV, true
	case "application/x-ofx":
		return canonical.FormatOFX, true
	case "application/xml", "text/xml":
		return canonical.FormatCAMT, true
	default:
		return canonical.FormatUnknown, false
	}
}

func kindFromExtension(filename string) (canonical.SourceFormat, bool) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return canonical.FormatPDF, true
	case ".csv", ".tsv":
		return canonical.FormatCSV, true
	case ".ofx", ".qfx":
		return canonical.FormatOFX, true
	case ".sta", ".mt940":
		return canonical.FormatMT940, true
	case ".bai", ".bai2":
		return canonical.FormatBAI2, true
	case ".xml":
		return canonical.FormatCAMT, true
	default:
		return canonical.FormatUnknown, false
	}
}

func firstLines(text string, n int) []string {
	var out []string
	for _, line := range strings.SplitN(text, "\n", n+1) {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
		if len(out) == n {
			break
		}
	}
	return out
}
