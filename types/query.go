package types

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

type Validater interface {
	Validate() map[string]string
}

type QueryParams struct {
	QueryText string `json:"query_text" validate:"required"`
	TopK      int    `json:"top_k" validate:"gte=0"`
	RerankK   int    `json:"rerank_k" validate:"gte=0"`
}

type IngestParams struct {
	DocID string `json:"doc_id" validate:"omitempty,max=128"`
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *QueryParams) Validate() map[string]string {
	return validateStruct(params)
}

func (params *IngestParams) Validate() map[string]string {
	return validateStruct(params)
}

func validateStruct(v any) map[string]string {
	validate := validator.New()
	if err := validate.Struct(v); err != nil {
		errs := err.(validator.ValidationErrors)
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}

type QueryResponse struct {
	Query   string           `json:"query"`
	Answer  string           `json:"answer"`
	Sources []RetrievedChunk `json:"retrieved_chunks"`
}
