package backoffice

import (
	"errors"
	"testing"

	"github.com/appetiteclub/apt"
)

func TestDecodeSuccessResponse(t *testing.T) {
	tests := []struct {
		name    string
		resp    *apt.SuccessResponse
		wantErr bool
	}{
		{
			name:    "nilResponse",
			resp:    nil,
			wantErr: true,
		},
		{
			name: "validMapResponse",
			resp: &apt.SuccessResponse{
				Data: map[string]interface{}{
					"id":     "o-1",
					"status": "pending",
				},
			},
			wantErr: false,
		},
		{
			name: "validSliceResponse",
			resp: &apt.SuccessResponse{
				Data: []interface{}{
					map[string]interface{}{"id": "o-1"},
					map[string]interface{}{"id": "o-2"},
				},
			},
			wantErr: false,
		},
		{
			name: "emptyDataResponse",
			resp: &apt.SuccessResponse{
				Data: nil,
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dest interface{}
			err := decodeSuccessResponse(tt.resp, &dest)

			if (err != nil) != tt.wantErr {
				t.Errorf("decodeSuccessResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeSuccessResponseIntoOrder(t *testing.T) {
	resp := &apt.SuccessResponse{
		Data: map[string]interface{}{
			"id":     "o-1",
			"status": "preparing",
			"customer_info": map[string]interface{}{
				"name": "Ada",
			},
		},
	}

	var order Order
	if err := decodeSuccessResponse(resp, &order); err != nil {
		t.Fatalf("decodeSuccessResponse() error = %v", err)
	}

	if order.ID != "o-1" {
		t.Errorf("ID = %q, want %q", order.ID, "o-1")
	}
	if order.Status.Name != "preparing" {
		t.Errorf("Status = %q, want %q", order.Status.Name, "preparing")
	}
	if order.Customer.Name != "Ada" {
		t.Errorf("Customer.Name = %q, want %q", order.Customer.Name, "Ada")
	}
}

func TestDecodeSuccessResponseUnwrapsEnvelopes(t *testing.T) {
	tests := []struct {
		name string
		data interface{}
	}{
		{
			name: "bareObject",
			data: map[string]interface{}{"id": "o-1", "status": "ready"},
		},
		{
			name: "successEnvelope",
			data: map[string]interface{}{
				"success": true,
				"data":    map[string]interface{}{"id": "o-1", "status": "ready"},
			},
		},
		{
			name: "statusEnvelope",
			data: map[string]interface{}{
				"status": "ok",
				"data":   map[string]interface{}{"id": "o-1", "status": "ready"},
			},
		},
		{
			name: "nestedEnvelopes",
			data: map[string]interface{}{
				"success": true,
				"data": map[string]interface{}{
					"status": "ok",
					"data":   map[string]interface{}{"id": "o-1", "status": "ready"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var order Order
			if err := decodeSuccessResponse(&apt.SuccessResponse{Data: tt.data}, &order); err != nil {
				t.Fatalf("decodeSuccessResponse() error = %v", err)
			}
			if order.ID != "o-1" {
				t.Errorf("ID = %q, want %q", order.ID, "o-1")
			}
			if order.Status.Name != "ready" {
				t.Errorf("Status = %q, want %q", order.Status.Name, "ready")
			}
		})
	}
}

func TestDecodeSuccessResponseMalformed(t *testing.T) {
	resp := &apt.SuccessResponse{
		Data: map[string]interface{}{"id": 12345},
	}

	var order Order
	err := decodeSuccessResponse(resp, &order)
	if err == nil {
		t.Fatal("decodeSuccessResponse() should fail on a mistyped field")
	}

	var me *MalformedDataError
	if !errors.As(err, &me) {
		t.Errorf("error = %v, want MalformedDataError", err)
	}
}

func TestDecodeSuccessResponseUnrecognizedStatusFallsBack(t *testing.T) {
	resp := &apt.SuccessResponse{
		Data: map[string]interface{}{"id": "o-1", "status": "weird_vendor_state"},
	}

	var order Order
	if err := decodeSuccessResponse(resp, &order); err != nil {
		t.Fatalf("decodeSuccessResponse() error = %v", err)
	}
	if order.Status.Name != "pending" {
		t.Errorf("Status = %q, want pending fallback", order.Status.Name)
	}
}
