package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrument_CountsCommands(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := Instrument(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	setBefore := testutil.ToFloat64(redisRequestsTotal.WithLabelValues("set"))
	getErrBefore := testutil.ToFloat64(redisErrorsTotal.WithLabelValues("get"))

	require.NoError(t, rdb.Set(ctx, "k", "v", 0).Err())
	_, err := rdb.Get(ctx, "missing").Result()
	require.ErrorIs(t, err, goredis.Nil)

	assert.Equal(t, setBefore+1, testutil.ToFloat64(redisRequestsTotal.WithLabelValues("set")))
	assert.Equal(t, getErrBefore, testutil.ToFloat64(redisErrorsTotal.WithLabelValues("get")), "a miss is not an error")
}
