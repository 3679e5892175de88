package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"compliancerag/types"
)

type GenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type GenerateResponse struct {
	Response string `json:"response"`
}

// Agent turns retrieved context plus a question into an answer through an
// Ollama-compatible generation API. A failure surfaces as GenerationFailed;
// the agent never substitutes a made-up answer.
type Agent struct {
	client *http.Client
	url    string
	model  string
}

func New(baseURL, model string, timeout time.Duration) *Agent {
	if timeout == 0 {
		timeout = 300 * time.Second
	}
	return &Agent{
		client: &http.Client{Timeout: timeout},
		url:    baseURL,
		model:  model,
	}
}

func (a *Agent) Generate(ctx context.Context, chunks []types.RetrievedChunk, question string) (string, error) {
	if len(chunks) == 0 {
		return "I couldn't find any relevant information to answer your question.", nil
	}

	contexts := make([]string, len(chunks))
	for i, ch := range chunks {
		contexts[i] = ch.Document
	}

	prompt := fmt.Sprintf(`Using the following context, answer the question at the end.
If you don't know the answer, just say that you don't know, don't try to make up an answer.

Context:
%s

Question: %s
Answer:`, strings.Join(contexts, "\n\n"), question)

	reqBody, err := json.Marshal(GenerateRequest{
		Model:  a.model,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return "", err
	}

	if count, err := countTokens(reqBody); err == nil {
		fmt.Printf("Prompt size: %d tokens, %d bytes\n", count, len(reqBody))
	}

	start := time.Now()
	defer func() {
		fmt.Printf("LLM answer took %v\n", time.Since(start))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrGenerationFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d, body: %s", types.ErrGenerationFailed, resp.StatusCode, string(body))
	}

	var genResp GenerateResponse
	if err := json.Unmarshal(body, &genResp); err == nil && genResp.Response != "" {
		return strings.TrimSpace(genResp.Response), nil
	}

	// Some deployments stream regardless; assemble the parts.
	var output strings.Builder
	decoder := json.NewDecoder(bytes.NewReader(body))
	for decoder.More() {
		var chunk GenerateResponse
		if err := decoder.Decode(&chunk); err != nil {
			break
		}
		output.WriteString(chunk.Response)
	}
	answer := strings.TrimSpace(output.String())
	if answer == "" {
		return "", fmt.Errorf("%w: empty response from model", types.ErrGenerationFailed)
	}
	return answer, nil
}

func countTokens(data []byte) (int, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(string(data), nil, nil)), nil
}
