package loader

import (
	"encoding/base64"
	"net/http"
)

// RequestModifier rewrites a request before it is sent. Returning nil
// fails the download with an invalid operation error.
type RequestModifier interface {
	ModifyRequest(req *http.Request) *http.Request
}

// RequestModifierFunc adapts a function to RequestModifier.
type RequestModifierFunc func(req *http.Request) *http.Request

// ModifyRequest implements RequestModifier.
func (f RequestModifierFunc) ModifyRequest(req *http.Request) *http.Request {
	return f(req)
}

// HeaderModifier returns a RequestModifier that sets headers.
func HeaderModifier(headers map[string]string) RequestModifier {
	return RequestModifierFunc(func(req *http.Request) *http.Request {
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req
	})
}

// ResponseModifier inspects or rewrites a response before validation.
// Returning nil fails the download with an invalid response error.
type ResponseModifier interface {
	ModifyResponse(resp *http.Response) *http.Response
}

// ResponseModifierFunc adapts a function to ResponseModifier.
type ResponseModifierFunc func(resp *http.Response) *http.Response

// ModifyResponse implements ResponseModifier.
func (f ResponseModifierFunc) ModifyResponse(resp *http.Response) *http.Response {
	return f(resp)
}

// Decryptor transforms downloaded bytes before decoding. Returning nil
// fails the download with a bad data error. A decryptor disables
// progressive decoding.
type Decryptor interface {
	Decrypt(data []byte, resp *http.Response) []byte
}

// DecryptorFunc adapts a function to Decryptor.
type DecryptorFunc func(data []byte, resp *http.Response) []byte

// Decrypt implements Decryptor.
func (f DecryptorFunc) Decrypt(data []byte, resp *http.Response) []byte {
	return f(data, resp)
}

// Base64Decryptor decodes standard base64 payloads.
func Base64Decryptor() Decryptor {
	return DecryptorFunc(func(data []byte, _ *http.Response) []byte {
		out := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
		n, err := base64.StdEncoding.Decode(out, data)
		if err != nil {
			return nil
		}
		return out[:n]
	})
}
