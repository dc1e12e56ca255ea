package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"mentorsync/pkg/types"
)

// Response is the envelope of every REST reply.
type Response struct {
	Code  int         `json:"code"`
	Data  interface{} `json:"data,omitempty"`
	Msg   string      `json:"msg"`
	Error string      `json:"error,omitempty"`
}

// Err builds an error reply. The cause is only exposed outside release mode.
func Err(code int, msg string, err error) Response {
	res := Response{Code: code, Msg: msg}
	if err != nil && gin.Mode() != gin.ReleaseMode {
		res.Error = fmt.Sprintf("%+v", err)
	}
	return res
}

func ParamErr(msg string, err error) Response {
	if msg == "" {
		msg = "parameter error"
	}
	return Err(http.StatusBadRequest, msg, err)
}

func AuthErr(msg string) Response {
	if msg == "" {
		msg = "authentication error"
	}
	return Err(http.StatusUnauthorized, msg, nil)
}

// StatusFor maps an error kind onto an HTTP status.
func StatusFor(err error) int {
	switch types.KindOf(err) {
	case types.KindValidation:
		return http.StatusBadRequest
	case types.KindAuth:
		return http.StatusUnauthorized
	case types.KindAuthorization:
		return http.StatusForbidden
	case types.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// FromError converts a classified error into its status and reply. Internal
// failures always carry the generic message.
func FromError(err error) (int, Response) {
	status := StatusFor(err)
	return status, Err(status, types.PublicMessage(err, types.MsgUnexpected), err)
}
