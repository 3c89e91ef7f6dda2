package daraja

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"mpesa-payment-service/pkg/common"
)

const (
	sandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	productionBaseURL = "https://api.safaricom.co.ke"

	timestampLayout = "20060102150405"
)

type Config struct {
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	Environment    string // "production" or "sandbox"
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// Client talks to the Daraja API. It is safe for concurrent use; the only
// state it holds is the cached OAuth token.
type Client struct {
	config     Config
	baseURL    string
	httpClient *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(cfg Config) *Client {
	baseURL := sandboxBaseURL
	if cfg.IsProduction() {
		baseURL = productionBaseURL
	}

	return &Client{
		config:  cfg,
		baseURL: baseURL,
		// STK pushes block on the payer entering a PIN; keep the timeout
		// generous but bounded.
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// GetAccessToken exchanges the consumer credentials for a bearer token,
// reusing a cached token until shortly before it expires. At most one
// automatic retry on transport failure.
func (c *Client) GetAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	token, expiresIn, err := c.fetchToken(ctx)
	if err != nil {
		// Single retry; token requests are cheap but must not be hammered.
		token, expiresIn, err = c.fetchToken(ctx)
		if err != nil {
			return "", err
		}
	}

	c.token = token
	c.tokenExpiry = time.Now().Add(time.Duration(expiresIn-30) * time.Second)
	return token, nil
}

func (c *Client) fetchToken(ctx context.Context) (string, int64, error) {
	url := fmt.Sprintf("%s/oauth/v1/generate?grant_type=client_credentials", c.baseURL)
	auth := base64.StdEncoding.EncodeToString([]byte(c.config.ConsumerKey + ":" + c.config.ConsumerSecret))

	status, body, err := common.Get(ctx, c.httpClient, url, map[string]string{
		"Authorization": "Basic " + auth,
	})
	if err != nil {
		return "", 0, &AuthError{Reason: "token request failed", Err: err}
	}
	if status != http.StatusOK {
		return "", 0, &AuthError{Reason: fmt.Sprintf("credentials rejected (status %d): %s", status, string(body))}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, &AuthError{Reason: "invalid token response", Err: err}
	}
	if tr.AccessToken == "" {
		return "", 0, &AuthError{Reason: "empty access token in response"}
	}

	expiresIn, err := strconv.ParseInt(tr.ExpiresIn, 10, 64)
	if err != nil || expiresIn <= 0 {
		expiresIn = 3599
	}
	return tr.AccessToken, expiresIn, nil
}

type STKPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int    `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type darajaErrorResponse struct {
	RequestId    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// STKPush submits a payment prompt for the given phone and amount. The
// password is the base64 of shortcode+passkey+timestamp as the Daraja API
// requires.
// Returns RejectedError when the gateway answers with a non-zero response
// code and UnreachableError when the call itself fails.
func (c *Client) STKPush(ctx context.Context, token, phoneNumber string, amount float64, accountRef, description string) (*STKPushResponse, error) {
	timestamp := time.Now().Format(timestampLayout)
	password := base64.StdEncoding.EncodeToString([]byte(c.config.ShortCode + c.config.Passkey + timestamp))

	request := STKPushRequest{
		BusinessShortCode: c.config.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            int(amount),
		PartyA:            phoneNumber,
		PartyB:            c.config.ShortCode,
		PhoneNumber:       phoneNumber,
		CallBackURL:       c.config.CallbackURL,
		AccountReference:  accountRef,
		TransactionDesc:   description,
	}

	url := fmt.Sprintf("%s/mpesa/stkpush/v1/processrequest", c.baseURL)
	status, body, err := common.PostJSON(ctx, c.httpClient, url, request, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if err != nil {
		return nil, &UnreachableError{Err: err}
	}

	if status >= http.StatusInternalServerError {
		return nil, &UnreachableError{Err: fmt.Errorf("gateway returned status %d: %s", status, string(body))}
	}

	if status != http.StatusOK {
		var derr darajaErrorResponse
		if err := json.Unmarshal(body, &derr); err == nil && derr.ErrorCode != "" {
			return nil, &RejectedError{Code: derr.ErrorCode, Description: derr.ErrorMessage}
		}
		return nil, &RejectedError{Code: strconv.Itoa(status), Description: string(body)}
	}

	var response STKPushResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, &UnreachableError{Err: fmt.Errorf("unparseable gateway response: %w", err)}
	}

	if response.ResponseCode != "0" {
		return nil, &RejectedError{Code: response.ResponseCode, Description: response.ResponseDescription}
	}

	return &response, nil
}
