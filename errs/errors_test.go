package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetriable_TrueOnlyForTransportAndTimeout(t *testing.T) {
	assert.True(t, Retriable(Transport(nil, "dial failed")))
	assert.True(t, Retriable(Timeout(nil, "read timed out")))
	assert.False(t, Retriable(Protocol(nil, "unexpected response")))
	assert.False(t, Retriable(Authentication(nil, "bad credentials")))
	assert.False(t, Retriable(errors.New("plain error")))
}

func TestCodeOf_ExtractsWrappedCode(t *testing.T) {
	wrapped := Fetch(Transport(nil, "broken pipe"), "fetching UID %d", 42)
	assert.Equal(t, CodeFetch, CodeOf(wrapped))
	assert.Equal(t, Code(""), CodeOf(errors.New("not ours")))
}

func TestError_MessageIncludesLineWhenSet(t *testing.T) {
	err := Protocol(nil, "unexpected continuation").WithLine("+ idling")
	assert.Contains(t, err.Error(), "unexpected continuation")
	assert.Contains(t, err.Error(), `line: "+ idling"`)
}

func TestUidValidityChanged_ReportsOldAndCurrent(t *testing.T) {
	err := UidValidityChanged(100, 200)
	assert.Equal(t, CodeUidValidityChanged, err.Code)
	assert.Contains(t, err.Error(), "100")
	assert.Contains(t, err.Error(), "200")
}

func TestPartialOperationError_ReportsCounts(t *testing.T) {
	err := &PartialOperationError{
		Succeeded: []uint32{1, 2, 3},
		Failures:  []PartialFailure{{UID: 4, Err: errors.New("no such message")}},
	}
	assert.Equal(t, CodePartialOperation, err.Code())
	assert.Contains(t, err.Error(), "3 succeeded")
	assert.Contains(t, err.Error(), "1 failed")
}
