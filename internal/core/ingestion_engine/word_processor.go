package ingestion_engine

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"

	"code.sajari.com/docconv"
	"github.com/markdave123-py/contexta-rag/internal/core"
)

var _ core.DocumentProcessor = (*WordProcessor)(nil)

const tablesHeader = "\n\n--- Tablas ---\n"

// WordProcessor reads .docx through its document.xml part and legacy .doc
// files through docconv. The whole document becomes a single ExtractedText.
type WordProcessor struct{}

func NewWordProcessor() *WordProcessor {
	return &WordProcessor{}
}

func (w *WordProcessor) Format() string       { return "word" }
func (w *WordProcessor) Extensions() []string { return []string{"docx", "doc"} }

func (w *WordProcessor) SupportsFormat(filename string) bool {
	return hasExtension(filename, w.Extensions())
}

func (w *WordProcessor) ExtractText(ctx context.Context, content []byte, filename string) ([]core.ExtractedText, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		body wordBody
		err  error
	)
	if fileExtension(filename) == "doc" {
		body, err = readLegacyDoc(content)
	} else {
		body, err = readDocx(content)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: word %s: %v", core.ErrExtraction, filename, err)
	}

	paragraphs := make([]string, 0, len(body.paragraphs))
	for _, p := range body.paragraphs {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}

	var rows []string
	for _, table := range body.tables {
		for _, row := range table {
			cells := make([]string, 0, len(row))
			for _, c := range row {
				if c = strings.TrimSpace(c); c != "" {
					cells = append(cells, c)
				}
			}
			if len(cells) > 0 {
				rows = append(rows, strings.Join(cells, " | "))
			}
		}
	}

	text := strings.Join(paragraphs, "\n\n")
	if len(rows) > 0 {
		text += tablesHeader + strings.Join(rows, "\n")
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	return []core.ExtractedText{{
		Text:       text,
		PageNumber: 1,
		Metadata: map[string]any{
			"source_file":      filename,
			"file_type":        w.Format(),
			"paragraphs_count": len(paragraphs),
			"tables_count":     len(body.tables),
		},
	}}, nil
}

// wordBody is the plain-text view of a document: body paragraphs in order,
// and every table as rows of cell texts.
type wordBody struct {
	paragraphs []string
	tables     [][][]string
}

var blankLines = regexp.MustCompile(`\n\s*\n`)

func readLegacyDoc(content []byte) (wordBody, error) {
	text, _, err := docconv.ConvertDoc(bytes.NewReader(content))
	if err != nil {
		return wordBody{}, err
	}
	return wordBody{paragraphs: blankLines.Split(text, -1)}, nil
}

func readDocx(content []byte) (wordBody, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return wordBody{}, fmt.Errorf("open docx archive: %w", err)
	}

	var part *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			part = f
			break
		}
	}
	if part == nil {
		return wordBody{}, fmt.Errorf("word/document.xml missing")
	}

	rc, err := part.Open()
	if err != nil {
		return wordBody{}, err
	}
	raw, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return wordBody{}, err
	}

	var doc docxDocument
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return wordBody{}, fmt.Errorf("parse document.xml: %w", err)
	}

	body := wordBody{paragraphs: make([]string, 0, len(doc.Body.Paragraphs))}
	for _, p := range doc.Body.Paragraphs {
		body.paragraphs = append(body.paragraphs, p.text())
	}
	for _, tbl := range doc.Body.Tables {
		rows := make([][]string, 0, len(tbl.Rows))
		for _, tr := range tbl.Rows {
			cells := make([]string, 0, len(tr.Cells))
			for _, tc := range tr.Cells {
				parts := make([]string, 0, len(tc.Paragraphs))
				for _, p := range tc.Paragraphs {
					parts = append(parts, p.text())
				}
				cells = append(cells, strings.Join(parts, "\n"))
			}
			rows = append(rows, cells)
		}
		body.tables = append(body.tables, rows)
	}
	return body, nil
}

type docxDocument struct {
	Body struct {
		Paragraphs []docxParagraph `xml:"p"`
		Tables     []docxTable     `xml:"tbl"`
	} `xml:"body"`
}

type docxTable struct {
	Rows []struct {
		Cells []struct {
			Paragraphs []docxParagraph `xml:"p"`
		} `xml:"tc"`
	} `xml:"tr"`
}

type docxParagraph struct {
	Inner []byte `xml:",innerxml"`
}

// text walks the paragraph's runs. Property blocks are skipped so tab-stop
// definitions do not turn into tabs.
func (p docxParagraph) text() string {
	dec := xml.NewDecoder(bytes.NewReader(p.Inner))
	var (
		out    strings.Builder
		inText bool
		skip   int
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if skip > 0 {
				skip++
				continue
			}
			switch t.Name.Local {
			case "pPr", "rPr":
				skip = 1
			case "t":
				inText = true
			case "tab":
				out.WriteByte('\t')
			case "br", "cr":
				out.WriteByte('\n')
			}
		case xml.EndElement:
			if skip > 0 {
				skip--
				continue
			}
			if t.Name.Local == "t" {
				inText = false
			}
		case xml.CharData:
			if inText && skip == 0 {
				out.Write(t)
			}
		}
	}
	return out.String()
}
