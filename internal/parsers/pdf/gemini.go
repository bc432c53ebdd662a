package pdf

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"google.golang.org/genai"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/parser"
)

// DefaultModelName is the Gemini model used by the fallback.
const DefaultModelName = "gemini-2.5-flash"

const fallbackPrompt = "You are a financial statement parser.\n\n" +
	"Task:\n" +
	"- Extract ALL transactions from the attached statement.\n" +
	"- Output STRICT JSON only: a JSON array of objects.\n\n" +
	"Each object must have these fields:\n" +
	"- \"date\": string, ISO format \"YYYY-MM-DD\"\n" +
	"- \"description\": string\n" +
	"- \"amount\": number, signed exactly as printed on the statement\n" +
	"- \"currency\": string or null\n" +
	"- \"merchant\": string or null\n\n" +
	"Rules:\n" +
	"- Skip summary rows such as totals and opening or closing balances.\n" +
	"- If a row shows separate debit and credit columns, output credit minus debit.\n\n" +
	"Return ONLY valid raw JSON. Do NOT wrap the response in code fences.\n" +
	"Output must begin with \"[\" and end with \"]\".\n"

// ContentGenerator is the slice of the genai client the fallback needs.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiExtractor asks a Gemini model for the transactions of a statement.
type GeminiExtractor struct {
	models ContentGenerator
	model  string
}

// NewGeminiExtractor creates a client from the environment (GOOGLE_API_KEY or
// Vertex AI settings).
func NewGeminiExtractor(ctx context.Context, model string) (*GeminiExtractor, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiExtractor: create genai client: %w", err)
	}
	return NewGeminiExtractorWith(client.Models, model), nil
}

// NewGeminiExtractorWith wraps an existing generator.
func NewGeminiExtractorWith(models ContentGenerator, model string) *GeminiExtractor {
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiExtractor{models: models, model: model}
}

type modelTransaction struct {
	Date        string           `json:"date"`
	Description string           `json:"description"`
	Amount      *decimal.Decimal `json:"amount"`
	Currency    *string          `json:"currency"`
	Merchant    *string          `json:"merchant"`
}

// ExtractTransactions implements TransactionExtractor.
func (g *GeminiExtractor) ExtractTransactions(ctx context.Context, data []byte, opts parser.Options) ([]domain.ParsedTransaction, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: fallbackPrompt},
				{InlineData: &genai.Blob{MIMEType: "application/pdf", Data: data}},
			},
		},
	}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("ExtractTransactions: generate content: %w", err)
	}
	raw := resp.Text()
	if raw == "" {
		return nil, fmt.Errorf("ExtractTransactions: empty response from model")
	}
	return decodeModelTransactions(cleanModelJSON(raw))
}

func decodeModelTransactions(clean string) ([]domain.ParsedTransaction, error) {
	var items []modelTransaction
	if err := json.Unmarshal([]byte(clean), &items); err != nil {
		return nil, fmt.Errorf("decodeModelTransactions: unmarshal JSON: %w", err)
	}

	out := make([]domain.ParsedTransaction, 0, len(items))
	for i, item := range items {
		if strings.TrimSpace(item.Description) == "" {
			return nil, fmt.Errorf("transaction %d: required field %q is empty", i, "description")
		}
		if item.Amount == nil {
			return nil, fmt.Errorf("transaction %d: missing required field %q", i, "amount")
		}
		date, err := parser.ParseDate(item.Date)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: invalid date %q: %w", i, item.Date, err)
		}
		tx := domain.ParsedTransaction{
			Date:        date,
			Amount:      *item.Amount,
			Description: strings.TrimSpace(item.Description),
		}
		if item.Currency != nil {
			tx.CurrencyCode = strings.ToUpper(strings.TrimSpace(*item.Currency))
		}
		if item.Merchant != nil {
			tx.MerchantName = strings.TrimSpace(*item.Merchant)
		}
		out = append(out, tx)
	}
	return out, nil
}

// cleanModelJSON strips Markdown fences and surrounding prose from a model
// response, keeping the outermost JSON array.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return s
		}
		s = strings.TrimSpace(s[idx+1:])
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
