package domain

// PaymentInstrument — данные карты. Для ядра непрозрачны и передаются шлюзу как есть.
type PaymentInstrument struct {
	CardNumber string
	CardHolder string
	Expiry     string
}

// Last4 возвращает последние четыре цифры карты для логов.
func (p PaymentInstrument) Last4() string {
	if len(p.CardNumber) <= 4 {
		return p.CardNumber
	}
	return p.CardNumber[len(p.CardNumber)-4:]
}

// PaymentResult — ответ шлюза на авторизацию.
type PaymentResult struct {
	Approved  bool
	Reference string
	Reason    string
	// Method — человекочитаемая метка способа оплаты для заказа.
	Method string
}
