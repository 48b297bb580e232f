package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gestaozabele/manutencao/internal/util"
)

// SuccessEnvelope padroniza respostas com dados.
type SuccessEnvelope struct {
	Data  any `json:"data"`
	Error any `json:"error"`
}

// ErrorEnvelope padroniza respostas de erro.
type ErrorEnvelope struct {
	Data  any        `json:"data"`
	Error *ErrorBody `json:"error"`
}

// ErrorBody descreve falhas normalizadas.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// WriteJSON escreve envelope de sucesso.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(SuccessEnvelope{Data: data, Error: nil})
}

// WriteError escreve envelope de erro e mantém formato consistente.
func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorEnvelope{
		Data:  nil,
		Error: &ErrorBody{Code: code, Message: message, Details: details},
	})
}

const maxJSONBody = 64 << 10

// decodeJSON lê o corpo e aplica as tags `validate`. Corpo vazio equivale a objeto vazio.
// Em caso de erro a resposta já foi escrita.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "payload inválido", nil)
		return false
	}
	if err := util.ValidateStruct(dst); err != nil {
		var verr *util.ValidationError
		if errors.As(err, &verr) {
			WriteError(w, http.StatusBadRequest, "VALIDATION", "payload inválido", verr.Fields)
			return false
		}
		WriteError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
		return false
	}
	return true
}
