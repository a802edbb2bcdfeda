package domain

import "testing"

func TestValidateEngagementTones(t *testing.T) {
	if err := ValidateEngagementTones(); err != nil {
		t.Fatalf("таблица тональностей должна покрывать все типы: %v", err)
	}
}

func TestToneForEveryType(t *testing.T) {
	for _, engagement := range EngagementTypes {
		tone, err := ToneFor(engagement)
		if err != nil {
			t.Fatalf("тип %s: не ожидали ошибку: %v", engagement, err)
		}
		if tone == "" {
			t.Fatalf("тип %s: пустая тональность", engagement)
		}
	}
}

func TestToneForUnknownType(t *testing.T) {
	if _, err := ToneFor(EngagementType("SARCASM")); err == nil {
		t.Fatalf("ожидали ошибку для неизвестного типа")
	}
}
