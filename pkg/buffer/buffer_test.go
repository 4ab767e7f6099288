package buffer_test

import (
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/WhileEndless/reactorhttp/pkg/buffer"
)

func TestBufferConcurrentCloseIsIdempotent(t *testing.T) {
	buf := buffer.New(1024)
	_, err := buf.Write([]byte("test data for concurrent close"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, buf.Close())
		}()
	}
	wg.Wait()
}

func TestBufferSpillsToDiskPastLimit(t *testing.T) {
	buf := buffer.New(10)
	defer buf.Close()

	_, err := buf.Write([]byte("small"))
	require.NoError(t, err)
	require.False(t, buf.IsSpilled())
	require.NotNil(t, buf.Bytes())

	_, err = buf.Write([]byte("this is much larger data that exceeds the limit"))
	require.NoError(t, err)
	require.True(t, buf.IsSpilled())
	require.NotEmpty(t, buf.Path())
	require.Nil(t, buf.Bytes())
	require.EqualValues(t, len("small")+len("this is much larger data that exceeds the limit"), buf.Size())
}

func TestBufferReaderReturnsStoredData(t *testing.T) {
	buf := buffer.New(1024)
	defer buf.Close()

	testData := []byte("test data for reader")
	_, err := buf.Write(testData)
	require.NoError(t, err)

	reader, err := buf.Reader()
	require.NoError(t, err)
	defer reader.Close()

	readData, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, testData, readData)
}

func TestBufferResetClearsSpilledState(t *testing.T) {
	buf := buffer.New(10)
	defer buf.Close()

	_, err := buf.Write([]byte("this will spill to disk because it's too large"))
	require.NoError(t, err)
	require.True(t, buf.IsSpilled())

	require.NoError(t, buf.Reset())
	require.Zero(t, buf.Size())
	require.False(t, buf.IsSpilled())
}

func TestFromBodyWrapsDecodedBody(t *testing.T) {
	body := []byte("decoded response body bytes")
	buf, err := buffer.FromBody(body, 1024)
	require.NoError(t, err)
	defer buf.Close()

	require.False(t, buf.IsSpilled())
	require.Equal(t, body, buf.Bytes())
}

func TestFromBodySpillsOversizedBody(t *testing.T) {
	body := []byte("this decoded body is larger than the tiny limit given below")
	buf, err := buffer.FromBody(body, 8)
	require.NoError(t, err)
	defer buf.Close()

	require.True(t, buf.IsSpilled())
	reader, err := buf.Reader()
	require.NoError(t, err)
	defer reader.Close()

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, body, got)
}
