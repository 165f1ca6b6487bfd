package httpapi

import (
	"encoding/json"
	"net/http"
)

// 對外訊息，沿用既有服務的字串
const (
	MsgSuccess        = "Success"
	MsgError          = "Error"
	MsgNotDeposit     = "No es tipo Deposito"
	MsgNotWithdrawal  = "No es un retiro de dinero"
	MsgNotPinChange   = "No es tipo Cambio de Clave"
	MsgInvalidRequest = "Solicitud invalida"
)

// MessageResponse 所有操作的回應格式
type MessageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, MessageResponse{Message: message})
}
