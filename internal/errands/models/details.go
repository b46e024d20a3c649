package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Details is the type-specific payload of a request. The set of
// implementations is closed: only this package can satisfy it.
type Details interface {
	Type() RequestType
	Validate() error
	details()
}

// FoodDeliveryDetails accompanies food_delivery requests
type FoodDeliveryDetails struct {
	FoodCourt      string          `json:"food_court"`
	Items          string          `json:"items"`
	EstimatedPrice decimal.Decimal `json:"estimated_price"`
}

// ParcelPickupDetails accompanies parcel_pickup requests
type ParcelPickupDetails struct {
	TrackingNumber string `json:"tracking_number"`
	ParcelLocation string `json:"parcel_location"`
}

// MartPickupDetails accompanies mart_pickup requests
type MartPickupDetails struct {
	StoreName     string          `json:"store_name"`
	ItemsList     string          `json:"items_list"`
	PriceRangeMin decimal.Decimal `json:"price_range_min"`
	PriceRangeMax decimal.Decimal `json:"price_range_max"`
}

func (FoodDeliveryDetails) Type() RequestType { return TypeFoodDelivery }
func (ParcelPickupDetails) Type() RequestType { return TypeParcelPickup }
func (MartPickupDetails) Type() RequestType   { return TypeMartPickup }

func (FoodDeliveryDetails) details() {}
func (ParcelPickupDetails) details() {}
func (MartPickupDetails) details()   {}

func (d FoodDeliveryDetails) Validate() error {
	if strings.TrimSpace(d.Items) == "" {
		return errors.New("food items are required")
	}
	if d.EstimatedPrice.IsNegative() {
		return errors.New("estimated price must not be negative")
	}
	return nil
}

func (d ParcelPickupDetails) Validate() error {
	if strings.TrimSpace(d.TrackingNumber) == "" {
		return errors.New("tracking number is required")
	}
	return nil
}

func (d MartPickupDetails) Validate() error {
	if strings.TrimSpace(d.StoreName) == "" {
		return errors.New("store name is required")
	}
	if d.PriceRangeMin.IsNegative() {
		return errors.New("price range must not be negative")
	}
	if d.PriceRangeMax.LessThan(d.PriceRangeMin) {
		return errors.New("price range max is below min")
	}
	return nil
}

// DecodeDetails unmarshals raw into the payload type selected by t
func DecodeDetails(t RequestType, raw []byte) (Details, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("details for %s are required", t)
	}
	switch t {
	case TypeFoodDelivery:
		var d FoodDeliveryDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case TypeParcelPickup:
		var d ParcelPickupDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case TypeMartPickup:
		var d MartPickupDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, fmt.Errorf("unknown request type %q", t)
}
