package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/robertarktes/capacity-bookings/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/capacity-bookings/internal/adapters/mongo"
	"github.com/robertarktes/capacity-bookings/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/capacity-bookings/internal/adapters/redis"
	"github.com/robertarktes/capacity-bookings/internal/booking"
	"github.com/robertarktes/capacity-bookings/internal/domain"
	httphandler "github.com/robertarktes/capacity-bookings/internal/http"
	"github.com/robertarktes/capacity-bookings/internal/idempotency"
	"github.com/robertarktes/capacity-bookings/internal/observability"
	"github.com/robertarktes/capacity-bookings/internal/outbox"
	"github.com/robertarktes/capacity-bookings/internal/payments"
	"github.com/robertarktes/capacity-bookings/internal/rateLimit"
)

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	require.NoError(t, err)
	return host + ":" + mapped.Port()
}

type client struct {
	t    *testing.T
	base string
}

func (c client) do(role, id, method, path string, body interface{}, headers map[string]string) (int, map[string]interface{}) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httphandler.HeaderActorID, id)
	req.Header.Set(httphandler.HeaderActorRole, role)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestIntegration_BookPayCancel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	crdbAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "cockroachdb/cockroach:v24.1.1",
		Cmd:          []string{"start-single-node", "--insecure"},
		ExposedPorts: []string{"26257/tcp", "8080/tcp"},
		WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
	}, "26257")
	mongoAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections"),
	}, "27017")
	redisAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
	}, "6379")
	rabbitAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13-management",
		ExposedPorts: []string{"5672/tcp", "15672/tcp"},
		WaitingFor:   wait.ForHTTP("/api/health/checks/alarms").WithPort("15672").WithBasicAuth("guest", "guest"),
	}, "5672")

	logger := observability.NewDiscardLogger()

	pool, err := pgxpool.New(ctx, fmt.Sprintf("postgresql://root@%s/defaultdb?sslmode=disable", crdbAddr))
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, crdb.Migrate(ctx, pool))
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://"+mongoAddr))
	require.NoError(t, err)
	defer mongoClient.Disconnect(context.Background())
	db := mongoClient.Database("cbk")

	rdb := redisclient.NewClient(&redisclient.Options{Addr: redisAddr})
	defer rdb.Close()

	conn, err := amqp.Dial("amqp://guest:guest@" + rabbitAddr + "/")
	require.NoError(t, err)
	defer conn.Close()

	catalog := redisadapter.NewOfferingCache(rdb, mongoadapter.NewCatalogRepository(db, logger), time.Minute, logger)
	svc := booking.NewService(repo, catalog, logger, booking.WithAuditTrail(mongoadapter.NewAuditLogger(db, logger)))

	auth, err := httphandler.NewAuthenticator("")
	require.NoError(t, err)
	server := httptest.NewServer(httphandler.SetupRouter(httphandler.NewHandlers(svc, nil), httphandler.RouterOptions{
		Logger:             logger,
		Auth:               auth,
		Limiter:            rateLimit.NewRateLimiter(redisadapter.NewCache(rdb), logger),
		RateLimitPerMinute: 100,
		Idempotency:        idempotency.NewIdempotency(redisadapter.NewIdempotency(rdb), time.Hour, logger),
	}))
	defer server.Close()

	// Gateway events arrive over the broker.
	gatewayConsumer, err := rabbit.NewConsumer(conn, "cbk.gateway", "cbk.payments", payments.RoutingKeys...)
	require.NoError(t, err)
	defer gatewayConsumer.Close()
	deliveries, err := gatewayConsumer.Consume(ctx)
	require.NoError(t, err)
	go func() { _ = payments.NewConsumer(svc, logger).Run(ctx, deliveries) }()
	gateway, err := rabbit.NewPublisher(conn, "cbk.gateway")
	require.NoError(t, err)

	// Something downstream listening for engine events.
	listener, err := rabbit.NewConsumer(conn, "cbk.events", "test.events", "#")
	require.NoError(t, err)
	events, err := listener.Consume(ctx)
	require.NoError(t, err)
	eventsPub, err := rabbit.NewPublisher(conn, "cbk.events")
	require.NoError(t, err)
	relay := outbox.NewPublisher(repo, eventsPub, logger, 50, time.Second)

	c := client{t: t, base: server.URL}
	admin := uuid.NewString()
	customer := uuid.NewString()

	status, offering := c.do("admin", admin, http.MethodPost, "/v1/offerings", map[string]interface{}{
		"name":         "Harbour cruise",
		"service_type": "tour",
		"base_price":   500,
		"currency":     "EUR",
		"capacity":     5,
		"start_at":     time.Now().Add(30 * time.Hour).UTC(),
	}, nil)
	require.Equal(t, http.StatusCreated, status)
	offeringID := offering["id"].(string)

	key := map[string]string{idempotency.Header: "book-" + uuid.NewString()}
	req := map[string]interface{}{
		"offering_id":    offeringID,
		"quantity":       2,
		"contact":        map[string]string{"name": "Grace", "email": "grace@example.com"},
		"payment_method": "card",
	}
	status, first := c.do("customer", customer, http.MethodPost, "/v1/bookings", req, key)
	require.Equal(t, http.StatusCreated, status)
	status, second := c.do("customer", customer, http.MethodPost, "/v1/bookings", req, key)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, first["id"], second["id"], "retried request must replay the first booking")
	bookingID := first["id"].(string)

	_, availability := c.do("customer", customer, http.MethodGet, "/v1/offerings/"+offeringID+"/availability", nil, nil)
	assert.EqualValues(t, 3, availability["capacity_available"])

	body, err := json.Marshal(payments.GatewayEvent{
		BookingID:        uuid.MustParse(bookingID),
		Amount:           1000,
		Method:           "card",
		GatewayReference: "gw-" + uuid.NewString(),
	})
	require.NoError(t, err)
	require.NoError(t, gateway.Publish(ctx, payments.KeyPaymentCaptured, amqp.Publishing{ContentType: "application/json", Body: body}))

	require.Eventually(t, func() bool {
		_, b := c.do("customer", customer, http.MethodGet, "/v1/bookings/"+bookingID, nil, nil)
		return b["status"] == string(domain.StatusConfirmed)
	}, 20*time.Second, 200*time.Millisecond)

	status, cancelled := c.do("customer", customer, http.MethodPost, "/v1/bookings/"+bookingID+"/cancel", map[string]string{"reason": "plans changed"}, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1000, cancelled["refund_amount"])

	_, availability = c.do("customer", customer, http.MethodGet, "/v1/offerings/"+offeringID+"/availability", nil, nil)
	assert.EqualValues(t, 5, availability["capacity_available"])

	n, err := relay.Flush(ctx)
	require.NoError(t, err)
	require.Greater(t, n, 0)

	var types []string
	timeout := time.After(10 * time.Second)
	for len(types) < n {
		select {
		case d := <-events:
			types = append(types, d.Type)
			_ = d.Ack(false)
		case <-timeout:
			t.Fatalf("received %d of %d events: %v", len(types), n, types)
		}
	}
	assert.Equal(t, domain.EventBookingCreated, types[0])
	assert.Contains(t, types, domain.EventPaymentRecorded)
	assert.Contains(t, types, domain.EventBookingCancelled)

	audited, err := db.Collection("booking_audit").CountDocuments(ctx, bson.M{"booking_id": bookingID})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, audited, int64(3))
}
