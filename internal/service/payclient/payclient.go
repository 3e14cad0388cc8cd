package payclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// JSON запрос перевода во внешнюю платежную систему
type TransferRequest struct {
	Reference string `json:"reference"`
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    int64  `json:"amount"`
}

// JSON ответ с ошибкой
type ErrorAnswer struct {
	Error string `json:"error"`
}

const headerIdempotencyKey = "Idempotency-Key"

var ErrTransferRejected = errors.New("transfer rejected")

type PayClient interface {
	Transfer(ctx context.Context, from string, to string, amount int64, reference string) error
}

type payClient struct {
	serviceAddr string
	client      *resty.Client
}

func NewPayClient(serviceAddr string) PayClient {
	return &payClient{
		serviceAddr: serviceAddr,
		client:      resty.New(),
	}
}

func (client *payClient) Transfer(ctx context.Context, from string, to string, amount int64, reference string) error {
	path := "/api/transfers"

	var errAnswer ErrorAnswer
	setresp, err := client.client.R().
		SetContext(ctx).
		SetHeader(headerIdempotencyKey, reference).
		SetBody(TransferRequest{Reference: reference, From: from, To: to, Amount: amount}).
		SetError(&errAnswer).
		Post(client.serviceAddr + path)
	if err != nil {
		return err
	}

	switch setresp.StatusCode() {
	case http.StatusOK, http.StatusCreated:
		return nil
	default:
		if errAnswer.Error != "" {
			return fmt.Errorf("%w: status %d: %s", ErrTransferRejected, setresp.StatusCode(), errAnswer.Error)
		}
		return fmt.Errorf("%w: status %d", ErrTransferRejected, setresp.StatusCode())
	}
}
