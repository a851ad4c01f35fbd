package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput         = "BOT_BAD_INPUT"
	ErrorBotNotFound      = "BOT_NOT_FOUND"
	ErrorBotDisabled      = "BOT_DISABLED"
	ErrorTransport        = "BOT_TRANSPORT_ERROR"
	ErrorRemoteRejected   = "BOT_REMOTE_REJECTED"
	ErrorStorage          = "BOT_STORAGE_ERROR"
	ErrorBotEventNotFound = "BOT_EVENT_NOT_FOUND"
	ErrorTickInFlight     = "BOT_TICK_IN_FLIGHT"
	ErrorUnauthorized     = "BOT_UNAUTHORIZED"
	ErrorInternal         = "BOT_INTERNAL_ERROR"
)

var (
	ErrBotNotFound      = errors.New("core: bot not found")
	ErrBotDisabled      = errors.New("core: bot disabled")
	ErrTransport        = errors.New("core: webhook transport failed")
	ErrRemoteRejected   = errors.New("core: webhook rejected")
	ErrStorage          = errors.New("core: storage failure")
	ErrBotEventNotFound = errors.New("core: bot event not found")
	ErrTickInFlight     = errors.New("core: delivery tick already in flight")
	ErrInvalidAPIKey    = errors.New("core: invalid bot api key")
	ErrNotRequeueable   = errors.New("core: only failed bot events can be requeued")
)

// BotLookupError reports a Bot Directory failure for a specific bot.
type BotLookupError struct {
	BotID string
	Kind  error
	Cause error
}

func (e *BotLookupError) Error() string {
	if e == nil {
		return ErrBotNotFound.Error()
	}
	message := fmt.Sprintf("%s: %q", kindOrDefault(e.Kind, ErrBotNotFound).Error(), e.BotID)
	if e.Cause != nil {
		message += ": " + e.Cause.Error()
	}
	return message
}

func (e *BotLookupError) Unwrap() error {
	if e == nil {
		return nil
	}
	kind := kindOrDefault(e.Kind, ErrBotNotFound)
	if e.Cause == nil {
		return kind
	}
	return errors.Join(kind, e.Cause)
}

func (e *BotLookupError) ToServiceError() *goerrors.Error {
	if e != nil && errors.Is(e.Kind, ErrBotDisabled) {
		return newServiceError(e.Error(), goerrors.CategoryOperation, http.StatusConflict, ErrorBotDisabled)
	}
	return newServiceError(e.Error(), goerrors.CategoryNotFound, http.StatusNotFound, ErrorBotNotFound)
}

func BotNotFound(botID string, cause error) error {
	return &BotLookupError{BotID: strings.TrimSpace(botID), Kind: ErrBotNotFound, Cause: cause}
}

func BotDisabled(botID string) error {
	return &BotLookupError{BotID: strings.TrimSpace(botID), Kind: ErrBotDisabled}
}

// DeliveryError is a failed webhook attempt. Kind is ErrTransport or ErrRemoteRejected.
type DeliveryError struct {
	Kind       error
	StatusCode int
	Message    string
	Cause      error
}

func (e *DeliveryError) Error() string {
	if e == nil {
		return ErrTransport.Error()
	}
	kind := kindOrDefault(e.Kind, ErrTransport)
	var parts []string
	parts = append(parts, kind.Error())
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status %d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *DeliveryError) Unwrap() error {
	if e == nil {
		return nil
	}
	kind := kindOrDefault(e.Kind, ErrTransport)
	if e.Cause == nil {
		return kind
	}
	return errors.Join(kind, e.Cause)
}

func (e *DeliveryError) ToServiceError() *goerrors.Error {
	textCode := ErrorTransport
	if e != nil && errors.Is(e.Kind, ErrRemoteRejected) {
		textCode = ErrorRemoteRejected
	}
	return newServiceError(e.Error(), goerrors.CategoryExternal, http.StatusBadGateway, textCode)
}

func TransportError(cause error) error {
	return &DeliveryError{Kind: ErrTransport, Cause: cause}
}

func RemoteRejected(statusCode int, message string) error {
	return &DeliveryError{Kind: ErrRemoteRejected, StatusCode: statusCode, Message: message}
}

type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string {
	if e == nil {
		return ErrStorage.Error()
	}
	message := ErrStorage.Error()
	if op := strings.TrimSpace(e.Op); op != "" {
		message += " (" + op + ")"
	}
	if e.Cause != nil {
		message += ": " + e.Cause.Error()
	}
	return message
}

func (e *StorageError) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.Cause == nil {
		return ErrStorage
	}
	return errors.Join(ErrStorage, e.Cause)
}

func (e *StorageError) ToServiceError() *goerrors.Error {
	return newServiceError(e.Error(), goerrors.CategoryInternal, http.StatusServiceUnavailable, ErrorStorage)
}

// WrapStorage tags err as a StorageError unless it already carries a domain kind.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	if errors.Is(err, ErrBotEventNotFound) || errors.Is(err, ErrBotNotFound) || errors.Is(err, ErrNotRequeueable) {
		return err
	}
	return &StorageError{Op: op, Cause: err}
}

func BotEventNotFound(id string) error {
	return fmt.Errorf("%w: %q", ErrBotEventNotFound, strings.TrimSpace(id))
}

type serviceErrorer interface {
	ToServiceError() *goerrors.Error
}

// MapError converts any error into a go-errors envelope with a text code and
// an HTTP status.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var lookupErr *BotLookupError
	if errors.As(err, &lookupErr) {
		return lookupErr.ToServiceError()
	}
	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) {
		return deliveryErr.ToServiceError()
	}
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return storageErr.ToServiceError()
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}
	var typed serviceErrorer
	if errors.As(err, &typed) {
		return ensureServiceErrorEnvelope(typed.ToServiceError())
	}

	switch {
	case errors.Is(err, ErrBotEventNotFound):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, http.StatusNotFound, ErrorBotEventNotFound)
	case errors.Is(err, ErrTickInFlight):
		return newServiceError(err.Error(), goerrors.CategoryConflict, http.StatusConflict, ErrorTickInFlight)
	case errors.Is(err, ErrNotRequeueable):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, http.StatusBadRequest, ErrorBadInput)
	case errors.Is(err, ErrInvalidAPIKey):
		return newServiceError(err.Error(), goerrors.CategoryAuth, http.StatusUnauthorized, ErrorUnauthorized)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	if strings.Contains(msg, "required") || strings.Contains(msg, "invalid") {
		return newServiceError(err.Error(), goerrors.CategoryBadInput, http.StatusBadRequest, ErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(message string, category goerrors.Category, code int, textCode string) *goerrors.Error {
	return goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorBotEventNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorUnauthorized
	case goerrors.CategoryExternal:
		return ErrorTransport
	default:
		return ErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func kindOrDefault(kind error, fallback error) error {
	if kind == nil {
		return fallback
	}
	return kind
}
