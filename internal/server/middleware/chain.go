package middleware

import "github.com/gin-gonic/gin"

// Interceptor is one stage of a request pipeline. Intercept either calls
// c.Next() to continue or aborts the context to short-circuit.
type Interceptor interface {
	Name() string
	Intercept(c *gin.Context)
}

type funcInterceptor struct {
	name string
	fn   gin.HandlerFunc
}

func (f funcInterceptor) Name() string              { return f.name }
func (f funcInterceptor) Intercept(c *gin.Context) { f.fn(c) }

// Func adapts a plain gin handler into a named interceptor
func Func(name string, fn gin.HandlerFunc) Interceptor {
	return funcInterceptor{name: name, fn: fn}
}

// Chain is an ordered list of interceptors
type Chain []Interceptor

// NewChain builds a chain, skipping nil entries
func NewChain(interceptors ...Interceptor) Chain {
	return Chain(nil).Append(interceptors...)
}

// Append returns a new chain with interceptors added after the existing ones
func (ch Chain) Append(interceptors ...Interceptor) Chain {
	out := make(Chain, 0, len(ch)+len(interceptors))
	out = append(out, ch...)
	for _, i := range interceptors {
		if i != nil {
			out = append(out, i)
		}
	}
	return out
}

// Names lists the interceptors in execution order
func (ch Chain) Names() []string {
	names := make([]string, len(ch))
	for i, in := range ch {
		names[i] = in.Name()
	}
	return names
}

// Handlers converts the chain into gin handlers
func (ch Chain) Handlers() gin.HandlersChain {
	hs := make(gin.HandlersChain, len(ch))
	for i, in := range ch {
		hs[i] = in.Intercept
	}
	return hs
}

// Then appends the route handler to the chain's handlers
func (ch Chain) Then(h gin.HandlerFunc) gin.HandlersChain {
	return append(ch.Handlers(), h)
}
