package auth

import (
	"strings"
	"testing"
	"time"
)

// TestGenerateJWT тестирует создание JWT токена
func TestGenerateJWT(t *testing.T) {
	user := &User{
		ID:           1,
		Username:     "testuser",
		PasswordHash: "hashedpassword",
		IsAdmin:      false,
		CreatedAt:    time.Now(),
		LastLogin:    time.Now(),
	}

	token, err := GenerateJWT(user)
	if err != nil {
		t.Fatalf("Ошибка генерации JWT: %v", err)
	}

	if token == "" {
		t.Fatal("Пустой токен")
	}

	// Проверяем, что токен содержит точки (разделители частей JWT)
	if strings.Count(token, ".") != 2 {
		t.Errorf("Неверный формат JWT токена: %s", token)
	}
}

// TestValidateJWT тестирует валидацию JWT токена
func TestValidateJWT(t *testing.T) {
	user := &User{
		ID:           42,
		Username:     "validuser",
		PasswordHash: "hashedpassword",
		IsAdmin:      true,
		CreatedAt:    time.Now(),
		LastLogin:    time.Now(),
	}

	token, err := GenerateJWT(user)
	if err != nil {
		t.Fatalf("Ошибка генерации JWT: %v", err)
	}

	userID, isValid, isAdmin := ValidateJWT(token)

	if !isValid {
		t.Error("Валидный токен определен как недействительный")
	}

	if userID != user.ID {
		t.Errorf("Неверный userID: ожидался %d, получен %d", user.ID, userID)
	}

	if isAdmin != user.IsAdmin {
		t.Errorf("Неверный флаг администратора: ожидался %v, получен %v", user.IsAdmin, isAdmin)
	}
}

// TestValidateInvalidJWT тестирует валидацию недействительного JWT
func TestValidateInvalidJWT(t *testing.T) {
	testCases := []string{
		"invalid.token.here",
		"",
		"not.a.jwt",
		"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.invalid.signature",
	}

	for _, invalidToken := range testCases {
		userID, isValid, isAdmin := ValidateJWT(invalidToken)

		if isValid {
			t.Errorf("Недействительный токен '%s' прошел валидацию", invalidToken)
		}

		if userID != 0 {
			t.Errorf("UserID должен быть 0 для недействительного токена, получен %d", userID)
		}

		if isAdmin {
			t.Errorf("isAdmin должен быть false для недействительного токена")
		}
	}
}

// TestGenerateSecureSecret тестирует генерацию секретного ключа
func TestGenerateSecureSecret(t *testing.T) {
	secret1, err1 := GenerateSecureSecret()
	if err1 != nil {
		t.Fatalf("Ошибка генерации первого секрета: %v", err1)
	}

	secret2, err2 := GenerateSecureSecret()
	if err2 != nil {
		t.Fatalf("Ошибка генерации второго секрета: %v", err2)
	}

	// Проверяем, что секреты разные
	if secret1 == secret2 {
		t.Error("Два последовательных вызова GenerateSecureSecret вернули одинаковый результат")
	}

	if secret1 == "" || secret2 == "" {
		t.Error("GenerateSecureSecret вернул пустой секрет")
	}

	// Минимальная длина (base64 от 32 байт = ~44 символа)
	if len(secret1) < 40 || len(secret2) < 40 {
		t.Error("Секрет слишком короткий")
	}
}

// TestSetJWTSecret тестирует установку пользовательского секретного ключа
func TestSetJWTSecret(t *testing.T) {
	validSecret, err := GenerateSecureSecret()
	if err != nil {
		t.Fatalf("Ошибка генерации валидного секрета: %v", err)
	}

	err = SetJWTSecret(validSecret)
	if err != nil {
		t.Errorf("Ошибка установки валидного секрета: %v", err)
	}

	invalidSecrets := []string{
		"too-short",
		"invalid-base64-@#$%",
		"",
	}

	for _, invalidSecret := range invalidSecrets {
		err = SetJWTSecret(invalidSecret)
		if err == nil {
			t.Errorf("Недействительный секрет '%s' был принят", invalidSecret)
		}
	}
}

// TestMemoryRepoValidateCredentials тестирует проверку учётных данных
func TestMemoryRepoValidateCredentials(t *testing.T) {
	repo, err := NewMemoryUserRepo()
	if err != nil {
		t.Fatalf("Ошибка создания репозитория: %v", err)
	}

	user, err := repo.ValidateCredentials("admin", "admin")
	if err != nil {
		t.Fatalf("Валидные учётные данные отклонены: %v", err)
	}
	if !user.IsAdmin {
		t.Error("Пользователь admin должен иметь флаг администратора")
	}

	if _, err := repo.ValidateCredentials("admin", "wrong"); err != ErrInvalidCredentials {
		t.Errorf("Ожидался ErrInvalidCredentials, получен %v", err)
	}
	if _, err := repo.ValidateCredentials("ghost", "admin"); err != ErrInvalidCredentials {
		t.Errorf("Ожидался ErrInvalidCredentials, получен %v", err)
	}

	// Case-insensitive поиск
	if _, err := repo.ValidateCredentials("ADMIN", "admin"); err != nil {
		t.Errorf("Поиск без учёта регистра не сработал: %v", err)
	}

	byID, err := repo.GetUserByID(user.ID)
	if err != nil {
		t.Fatalf("GetUserByID вернул ошибку: %v", err)
	}
	if byID.Username != user.Username {
		t.Errorf("GetUserByID вернул другого пользователя: %s", byID.Username)
	}
}
