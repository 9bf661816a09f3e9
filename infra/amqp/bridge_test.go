package amqp

import "testing"

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	if cfg.Exchange != "orders.events" || cfg.Queue != "dispatch.orders_ready" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Prefetch != 10 {
		t.Fatalf("unexpected prefetch: %d", cfg.Prefetch)
	}
}

func TestDecodeOrder(t *testing.T) {
	o, err := decodeOrder([]byte(`{"id":"o1","order_number":"PF-1","status":"ready_for_pickup"}`))
	if err != nil {
		t.Fatal(err)
	}
	if o.ID != "o1" || !o.Dispatchable() {
		t.Fatalf("unexpected order: %+v", o)
	}

	if _, err := decodeOrder([]byte(`{"status":"ready_for_pickup"}`)); err == nil {
		t.Fatal("expected error for missing id")
	}
	if _, err := decodeOrder([]byte(`not-json`)); err == nil {
		t.Fatal("expected decode error")
	}
}
