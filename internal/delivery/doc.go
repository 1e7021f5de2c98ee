// Package delivery sends rendered payloads to the operator chat and classifies
// the result as sent, transient or permanent.
package delivery
