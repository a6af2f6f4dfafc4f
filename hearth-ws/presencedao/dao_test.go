package presencedao

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/savaki/ddb"
	"github.com/tj/assert"
)

func withTable(t *testing.T, callback func(ctx context.Context, dao *DAO)) {
	var (
		s = session.Must(session.NewSession(aws.NewConfig().
			WithCredentials(credentials.NewStaticCredentials("blah", "blah", "")).
			WithEndpoint("http://localhost:8000").
			WithRegion("us-west-2")))
		api       = dynamodb.New(s)
		client    = ddb.New(api)
		tableName = fmt.Sprintf("table-%v", time.Now().UnixNano())
		table     = client.MustTable(tableName, Presence{})
		dao       = New(api, tableName)
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := table.CreateTableIfNotExists(ctx)
	assert.Nil(t, err)
	defer table.DeleteTableIfExists(ctx)

	callback(ctx, dao)
}

func TestDAO(t *testing.T) {
	withTable(t, func(ctx context.Context, dao *DAO) {
		now := time.Now().Unix()

		// never-seen user
		p, err := dao.Get(ctx, "u1")
		assert.Nil(t, err)
		assert.Nil(t, p)

		// first connection flips online
		count, err := dao.Increment(ctx, "u1", now)
		assert.Nil(t, err)
		assert.EqualValues(t, 1, count)

		p, err = dao.Get(ctx, "u1")
		assert.Nil(t, err)
		assert.True(t, p.Online)
		assert.EqualValues(t, 1, p.ConnCount)

		// second connection changes the count only
		count, err = dao.Increment(ctx, "u1", now)
		assert.Nil(t, err)
		assert.EqualValues(t, 2, count)

		count, err = dao.Decrement(ctx, "u1", now)
		assert.Nil(t, err)
		assert.EqualValues(t, 1, count)

		p, err = dao.Get(ctx, "u1")
		assert.Nil(t, err)
		assert.True(t, p.Online)

		// last disconnect flips offline
		count, err = dao.Decrement(ctx, "u1", now)
		assert.Nil(t, err)
		assert.EqualValues(t, 0, count)

		p, err = dao.Get(ctx, "u1")
		assert.Nil(t, err)
		assert.False(t, p.Online)
		assert.EqualValues(t, 0, p.ConnCount)

		// a duplicate cleanup is refused rather than driving the count negative
		count, err = dao.Decrement(ctx, "u1", now)
		assert.Nil(t, err)
		assert.EqualValues(t, -1, count)

		p, err = dao.Get(ctx, "u1")
		assert.Nil(t, err)
		assert.EqualValues(t, 0, p.ConnCount)
	})
}

func TestOnlineFlagTracksCount(t *testing.T) {
	withTable(t, func(ctx context.Context, dao *DAO) {
		now := time.Now().Unix()

		_, err := dao.Increment(ctx, "u1", now)
		assert.Nil(t, err)

		// An offline write that lost its race to a reconnect finds the count
		// non-zero and changes nothing.
		err = dao.setOnline(ctx, "u1", false, now)
		assert.Nil(t, err)

		p, err := dao.Get(ctx, "u1")
		assert.Nil(t, err)
		assert.True(t, p.Online)
		assert.EqualValues(t, 1, p.ConnCount)

		// The mirror case, an online write against a zero count, is refused
		// the same way.
		_, err = dao.Decrement(ctx, "u1", now)
		assert.Nil(t, err)

		err = dao.setOnline(ctx, "u1", true, now)
		assert.Nil(t, err)

		p, err = dao.Get(ctx, "u1")
		assert.Nil(t, err)
		assert.False(t, p.Online)
		assert.EqualValues(t, 0, p.ConnCount)
	})
}
