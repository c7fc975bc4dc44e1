package domain

import (
	"errors"
	"fmt"
)

// ErrorKind классифицирует бизнес-ошибки для транспорта (gRPC/HTTP).
type ErrorKind string

const (
	// KindValidation — некорректный или отсутствующий ввод, состояние не меняется.
	KindValidation ErrorKind = "VALIDATION"
	// KindNotFound — сущность не найдена.
	KindNotFound ErrorKind = "NOT_FOUND"
	// KindConflict — недопустимый переход состояния или нарушение бизнес-правила.
	KindConflict ErrorKind = "CONFLICT"
	// KindVerificationFailed — подпись платёжного шлюза не совпала.
	KindVerificationFailed ErrorKind = "VERIFICATION_FAILED"
	// KindUpstreamUnavailable — платёжный шлюз недоступен или не ответил вовремя.
	KindUpstreamUnavailable ErrorKind = "UPSTREAM_UNAVAILABLE"
	// KindInternal — всё, что не является бизнес-ошибкой.
	KindInternal ErrorKind = "INTERNAL"
)

// Error — типизированная бизнес-ошибка. Сравнение через errors.Is идёт по Code,
// поэтому уточнённое сообщение (Withf) продолжает совпадать с исходным sentinel.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func newError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is сравнивает ошибки по коду.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Withf возвращает копию ошибки с уточнённым сообщением.
func (e *Error) Withf(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Wrap возвращает копию ошибки с причиной.
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

var (
	// ErrInvalidInput — общий VALIDATION для отсутствующих/некорректных параметров.
	ErrInvalidInput = newError(KindValidation, "INVALID_INPUT", "invalid input")
	// ErrInvalidQuantity — количество вне допустимого диапазона.
	ErrInvalidQuantity = newError(KindValidation, "INVALID_QUANTITY", "invalid quantity")
	// ErrReturnReasonTooShort — причина возврата короче минимальной длины.
	ErrReturnReasonTooShort = newError(KindValidation, "RETURN_REASON_REQUIRED", "return reason is required")
	// ErrInvalidStatus — недопустимый целевой статус для админского обновления.
	ErrInvalidStatus = newError(KindValidation, "INVALID_STATUS", "invalid status")

	ErrProductNotFound       = newError(KindNotFound, "PRODUCT_NOT_FOUND", "product not found")
	ErrCategoryNotFound      = newError(KindNotFound, "CATEGORY_NOT_FOUND", "category not found")
	ErrCartNotFound          = newError(KindNotFound, "CART_NOT_FOUND", "cart not found")
	ErrCartItemNotFound      = newError(KindNotFound, "CART_ITEM_NOT_FOUND", "item not found in cart")
	ErrCouponNotFound        = newError(KindNotFound, "COUPON_NOT_FOUND", "invalid coupon code")
	ErrAddressNotFound       = newError(KindNotFound, "ADDRESS_NOT_FOUND", "address not found")
	ErrOrderNotFound         = newError(KindNotFound, "ORDER_NOT_FOUND", "order not found")
	ErrOrderItemNotFound     = newError(KindNotFound, "ORDER_ITEM_NOT_FOUND", "item not found")
	ErrReturnRequestNotFound = newError(KindNotFound, "RETURN_REQUEST_NOT_FOUND", "return request not found")
	ErrWalletNotFound        = newError(KindNotFound, "WALLET_NOT_FOUND", "wallet not found")

	// ErrEmptyCart — корзина пуста после фильтрации недоступных товаров.
	ErrEmptyCart = newError(KindConflict, "EMPTY_CART", "cart is empty")
	// ErrInsufficientStock — количество в корзине превышает остаток.
	ErrInsufficientStock = newError(KindConflict, "INSUFFICIENT_STOCK", "insufficient stock")
	// ErrProductUnavailable — товар снят с продажи или удалён.
	ErrProductUnavailable = newError(KindConflict, "PRODUCT_UNAVAILABLE", "product is not available")
	// ErrQuantityLimit — превышен лимит количества одной позиции.
	ErrQuantityLimit = newError(KindConflict, "QUANTITY_LIMIT", "quantity limit reached")
	// ErrCODLimitExceeded — сумма выше потолка для наложенного платежа.
	ErrCODLimitExceeded = newError(KindConflict, "COD_LIMIT_EXCEEDED", "COD not available above cap")
	// ErrGatewayBelowMinimum — сумма ниже минимума платёжного шлюза.
	ErrGatewayBelowMinimum = newError(KindConflict, "GATEWAY_BELOW_MINIMUM", "amount below gateway minimum")
	// ErrInsufficientBalance — в кошельке недостаточно средств.
	ErrInsufficientBalance = newError(KindConflict, "INSUFFICIENT_BALANCE", "insufficient wallet balance")

	ErrCouponInactive   = newError(KindConflict, "COUPON_INACTIVE", "coupon is not active")
	ErrCouponExpired    = newError(KindConflict, "COUPON_EXPIRED", "coupon has expired")
	ErrCouponMinimum    = newError(KindConflict, "COUPON_MIN_PURCHASE", "minimum purchase not reached")
	ErrCouponUsageLimit = newError(KindConflict, "COUPON_USAGE_LIMIT", "coupon usage limit reached")

	// ErrOrderNotCancellable — заказ уже отменён или доставлен.
	ErrOrderNotCancellable = newError(KindConflict, "ORDER_NOT_CANCELLABLE", "order cannot be cancelled")
	// ErrItemNotCancellable — позиция уже в терминальном статусе или доставлена.
	ErrItemNotCancellable = newError(KindConflict, "ITEM_NOT_CANCELLABLE", "item already cancelled or returned")
	// ErrReturnNotAllowed — вернуть можно только доставленную позицию.
	ErrReturnNotAllowed = newError(KindConflict, "RETURN_NOT_ALLOWED", "only delivered items can be returned")
	// ErrReturnAlreadyRequested — по позиции уже есть PENDING-заявка.
	ErrReturnAlreadyRequested = newError(KindConflict, "RETURN_ALREADY_REQUESTED", "return request already submitted")
	// ErrReturnAlreadyProcessed — заявка уже рассмотрена.
	ErrReturnAlreadyProcessed = newError(KindConflict, "RETURN_ALREADY_PROCESSED", "return request already processed")
	// ErrStatusRegression — попытка откатить статус назад.
	ErrStatusRegression = newError(KindConflict, "STATUS_REGRESSION", "status cannot move backward")
	// ErrOrderClosed — заказ в терминальном статусе и не обновляется.
	ErrOrderClosed = newError(KindConflict, "ORDER_CLOSED", "cannot update a cancelled or returned order")
	// ErrPaymentNotRetryable — заказ не ожидает онлайн-оплаты.
	ErrPaymentNotRetryable = newError(KindConflict, "PAYMENT_NOT_RETRYABLE", "payment cannot be retried")
	// ErrPaymentPending — онлайн-оплата заказа ещё не подтверждена.
	ErrPaymentPending = newError(KindConflict, "PAYMENT_PENDING", "order payment is not completed")
	// ErrGatewayOrderMismatch — callback относится к другому gateway-заказу.
	ErrGatewayOrderMismatch = newError(KindConflict, "GATEWAY_ORDER_MISMATCH", "gateway order does not match")

	// ErrDepositNotFound — пополнение с таким gateway-заказом не создавалось этим пользователем.
	ErrDepositNotFound = newError(KindNotFound, "DEPOSIT_NOT_FOUND", "deposit not found")
	// ErrDepositMismatch — сумма gateway-заказа не совпадает с созданным пополнением.
	ErrDepositMismatch = newError(KindConflict, "DEPOSIT_MISMATCH", "deposit does not match gateway order")

	// ErrDuplicateWalletReference — операция с таким reference уже проведена.
	ErrDuplicateWalletReference = newError(KindConflict, "WALLET_DUPLICATE_REFERENCE", "wallet transaction already applied")

	// ErrVerificationFailed — HMAC подписи не совпал.
	ErrVerificationFailed = newError(KindVerificationFailed, "VERIFICATION_FAILED", "payment verification failed")
	// ErrGatewayRejected — шлюз отклонил запрос (4xx); повтор того же запроса не поможет.
	ErrGatewayRejected = newError(KindConflict, "GATEWAY_REJECTED", "payment gateway rejected the request")
	// ErrGatewayUnavailable — шлюз недоступен или превышен таймаут; повторять можно после проверки состояния.
	ErrGatewayUnavailable = newError(KindUpstreamUnavailable, "GATEWAY_UNAVAILABLE", "payment gateway unavailable")

	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = newError(KindConflict, "ORDER_VERSION_CONFLICT", "order version conflict")
	// ErrCartVersionConflict — корзину параллельно изменил другой запрос.
	ErrCartVersionConflict = newError(KindConflict, "CART_VERSION_CONFLICT", "cart version conflict")
	// ErrReturnRequestConflict — заявку параллельно обработал другой запрос.
	ErrReturnRequestConflict = newError(KindConflict, "RETURN_REQUEST_CONFLICT", "return request version conflict")

	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound — ключ идемпотентности не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists — ключ уже создан другим запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different payload")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrOutboxMessageNotFound — сообщение outbox не найдено.
	ErrOutboxMessageNotFound = errors.New("outbox message not found")
)

// KindOf возвращает класс ошибки; не-бизнес ошибки считаются KindInternal.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict) ||
		errors.Is(err, ErrCartVersionConflict) ||
		errors.Is(err, ErrReturnRequestConflict)
}

// IsIdempotencyConflict проверяет, что ключ идемпотентности уже занят или переиспользован.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
