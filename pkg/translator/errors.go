package translator

import "errors"

// ErrInvalidUpstreamResponse is returned by ResponseTransformer when the
// upstream OpenAI response carries no choices to translate.
var ErrInvalidUpstreamResponse = errors.New("translator: invalid upstream response: no choices")
