package export

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"

	"github.com/Jegerchristiank/transkriptor/internal/datastore"
	"github.com/Jegerchristiank/transkriptor/internal/errors"
)

// Page geometry in twips: A4 portrait, 30 mm top/bottom and 20 mm side
// margins. The three table columns are a right-aligned line number, a fixed
// gap and the utterance text filling the rest of the content width.
const (
	pageWidthTwips   = 11906
	pageHeightTwips  = 16838
	topMarginTwips   = 1701
	sideMarginTwips  = 1134
	numberColTwips   = 601
	gapColTwips      = 329
	textColTwips     = pageWidthTwips - 2*sideMarginTwips - numberColTwips - gapColTwips
	rowHeightTwips   = 283 // 0.5 cm, exact
	fontSizeHalfPt   = 24  // 12 pt
	borderColorWhite = "FFFFFF"
)

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// ExportDOCX writes the transcript as a minimal WordprocessingML package:
// the shared document header as paragraphs, then a three-column table with
// one row per utterance. It returns the absolute path of the written file.
func ExportDOCX(job *datastore.Job, transcript []datastore.Utterance, outputPath string) (string, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	parts := map[string]string{
		"[Content_Types].xml":          contentTypesXML,
		"_rels/.rels":                  relsXML,
		"word/_rels/document.xml.rels": documentRelsXML,
		"word/styles.xml":              stylesXML,
		"word/document.xml":            documentXML(job, transcript),
	}
	// Fixed order keeps the archive reproducible.
	for _, name := range []string{
		"[Content_Types].xml", "_rels/.rels", "word/_rels/document.xml.rels",
		"word/styles.xml", "word/document.xml",
	} {
		w, err := zw.Create(name)
		if err != nil {
			return "", docxError(err)
		}
		if _, err := w.Write([]byte(parts[name])); err != nil {
			return "", docxError(err)
		}
	}
	if err := zw.Close(); err != nil {
		return "", docxError(err)
	}

	absPath, err := writeOut(outputPath, buf.Bytes())
	if err != nil {
		return "", docxError(err)
	}
	return absPath, nil
}

func docxError(err error) error {
	return errors.New(err).
		Component("export").
		Category(errors.CategoryFileIO).
		Context("format", "docx").
		Build()
}

func documentXML(job *datastore.Job, transcript []datastore.Utterance) string {
	var body strings.Builder

	for _, line := range headerLines(job) {
		bold := line == "Deltagere:"
		body.WriteString(paragraphXML(line, bold, false))
	}

	entries := lineEntries(transcript)
	if len(entries) > 0 {
		body.WriteString(tableXML(entries))
	}

	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
` + body.String() + fmt.Sprintf(`<w:sectPr>
<w:pgSz w:w="%d" w:h="%d"/>
<w:pgMar w:top="%d" w:bottom="%d" w:left="%d" w:right="%d"/>
</w:sectPr>
</w:body>
</w:document>
`, pageWidthTwips, pageHeightTwips, topMarginTwips, topMarginTwips, sideMarginTwips, sideMarginTwips)
}

// paragraphXML renders one paragraph with single line spacing and no extra
// spacing around it, matching the table cell paragraphs.
func paragraphXML(text string, bold, rightAlign bool) string {
	var b strings.Builder
	b.WriteString("<w:p><w:pPr><w:spacing w:before=\"0\" w:after=\"0\" w:line=\"240\" w:lineRule=\"auto\"/>")
	if rightAlign {
		b.WriteString("<w:jc w:val=\"right\"/>")
	}
	b.WriteString("</w:pPr>")
	if text != "" {
		b.WriteString(runXML(text, bold))
	}
	b.WriteString("</w:p>")
	return b.String()
}

func runXML(text string, bold bool) string {
	props := ""
	if bold {
		props = "<w:rPr><w:b/></w:rPr>"
	}
	return "<w:r>" + props + "<w:t xml:space=\"preserve\">" + xmlEscaper.Replace(text) + "</w:t></w:r>"
}

func tableXML(entries []lineEntry) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf(`<w:tbl>
<w:tblPr><w:tblW w:w="%d" w:type="dxa"/><w:tblLayout w:type="fixed"/><w:jc w:val="left"/></w:tblPr>
<w:tblGrid><w:gridCol w:w="%d"/><w:gridCol w:w="%d"/><w:gridCol w:w="%d"/></w:tblGrid>
`, numberColTwips+gapColTwips+textColTwips, numberColTwips, gapColTwips, textColTwips))

	for _, entry := range entries {
		b.WriteString(rowXML(entry))
	}
	b.WriteString("</w:tbl>")
	return b.String()
}

func rowXML(entry lineEntry) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("<w:tr><w:trPr><w:trHeight w:val=\"%d\" w:hRule=\"exact\"/></w:trPr>", rowHeightTwips))

	// number cell, right aligned
	b.WriteString(cellOpen(numberColTwips))
	b.WriteString(paragraphXML(fmt.Sprintf("%d", entry.Number), false, true))
	b.WriteString("</w:tc>")

	// gap cell
	b.WriteString(cellOpen(gapColTwips))
	b.WriteString(paragraphXML("", false, false))
	b.WriteString("</w:tc>")

	// text cell: bold speaker prefix, regular utterance text
	b.WriteString(cellOpen(textColTwips))
	b.WriteString("<w:p><w:pPr><w:spacing w:before=\"0\" w:after=\"0\" w:line=\"240\" w:lineRule=\"auto\"/></w:pPr>")
	b.WriteString(runXML(entry.Speaker+":", true))
	b.WriteString(runXML(" "+entry.Text, false))
	b.WriteString("</w:p></w:tc>")

	b.WriteString("</w:tr>\n")
	return b.String()
}

// cellOpen opens a table cell with its width and the white single borders
// the layout uses instead of visible grid lines.
func cellOpen(widthTwips int) string {
	borders := borderXML("top") + borderXML("left") + borderXML("bottom") + borderXML("right")
	return fmt.Sprintf(`<w:tc><w:tcPr><w:tcW w:w="%d" w:type="dxa"/><w:tcBorders>%s</w:tcBorders></w:tcPr>`,
		widthTwips, borders)
}

func borderXML(edge string) string {
	return fmt.Sprintf(`<w:%s w:val="single" w:sz="4" w:space="0" w:color="%s"/>`, edge, borderColorWhite)
}

const contentTypesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
<Override PartName="/word/styles.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml"/>
</Types>
`

const relsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>
`

const documentRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/>
</Relationships>
`

var stylesXML = fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:styles xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:docDefaults>
<w:rPrDefault><w:rPr><w:sz w:val="%d"/><w:szCs w:val="%d"/></w:rPr></w:rPrDefault>
<w:pPrDefault><w:pPr><w:spacing w:before="0" w:after="0" w:line="240" w:lineRule="auto"/></w:pPr></w:pPrDefault>
</w:docDefaults>
<w:style w:type="paragraph" w:default="1" w:styleId="Normal"><w:name w:val="Normal"/></w:style>
</w:styles>
`, fontSizeHalfPt, fontSizeHalfPt)
