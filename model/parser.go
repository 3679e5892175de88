package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	pdftypes "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"compliancerag/types"
)

// Parser extracts plain text from source documents. TXT files are read
// directly; PDF and DOCX go through the external converter service. PDFs are
// validated first and can have headers/footers cropped off before conversion.
type Parser struct {
	client       *http.Client
	converterURL string

	// Crop margins in points (1 pt = 1/72 inch). Zero disables cropping.
	TopCrop    float64
	BottomCrop float64
}

type converterResponse struct {
	Document struct {
		MdContent string `json:"md_content"`
	} `json:"document"`
}

func NewParser(converterURL string, timeout time.Duration) *Parser {
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Parser{
		client:       &http.Client{Timeout: timeout},
		converterURL: converterURL,
	}
}

// Parse returns the extracted text of the document at path.
func (p *Parser) Parse(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s", types.ErrNotFound, path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	case ".pdf":
		return p.parsePDF(ctx, path)
	case ".docx":
		return p.convert(ctx, path)
	default:
		return "", fmt.Errorf("%w: %s", types.ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func (p *Parser) parsePDF(ctx context.Context, path string) (string, error) {
	conf := api.LoadConfiguration()
	if err := api.ValidateFile(path, conf); err != nil {
		return "", fmt.Errorf("invalid PDF %s: %w", path, err)
	}

	if p.TopCrop > 0 || p.BottomCrop > 0 {
		cropped, err := p.cropHeaderFooter(path, conf)
		if err != nil {
			return "", err
		}
		defer os.Remove(cropped)
		path = cropped
	}

	return p.convert(ctx, path)
}

// cropHeaderFooter trims running headers and footers so they don't pollute
// every chunk of the converted text.
func (p *Parser) cropHeaderFooter(path string, conf *pdfmodel.Configuration) (string, error) {
	box, err := pdfmodel.ParseBox(fmt.Sprintf("%.2f 0 %.2f 0", p.TopCrop, p.BottomCrop), pdftypes.POINTS)
	if err != nil {
		return "", fmt.Errorf("failed to parse crop box: %w", err)
	}

	out := filepath.Join(os.TempDir(), "crop_"+filepath.Base(path))
	if err := api.CropFile(path, out, []string{"1-"}, box, conf); err != nil {
		return "", fmt.Errorf("failed to crop PDF: %w", err)
	}
	return out, nil
}

func (p *Parser) convert(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", err
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.converterURL, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("converter request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("converter error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var cr converterResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("failed to unmarshal converter response: %w", err)
	}
	return cr.Document.MdContent, nil
}
