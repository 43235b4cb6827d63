package serverutils

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"rag-bridge-be/pkg/rag"
)

var validate = validator.New()

func SuccessResponse(message string, data interface{}) fiber.Map {
	return fiber.Map{
		"success": true,
		"message": message,
		"data":    data,
	}
}

func ValidateRequest(req interface{}) error {
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return rag.NewError(rag.KindInvalidInput, "request.validate",
				"field "+f.Field()+" failed on "+f.Tag())
		}
		return rag.WrapError(rag.KindInvalidInput, "request.validate", "invalid request", err)
	}
	return nil
}

// ErrorHandlerMiddleware translates service errors into HTTP responses so
// controllers can just return them.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return ctx.Status(fiberErr.Code).JSON(fiber.Map{
				"success": false,
				"message": fiberErr.Message,
			})
		}

		status := statusForKind(rag.KindOf(err))
		return ctx.Status(status).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
			"kind":    string(rag.KindOf(err)),
		})
	}
}

func statusForKind(kind rag.ErrorKind) int {
	switch kind {
	case rag.KindInvalidInput:
		return fiber.StatusBadRequest
	case rag.KindNotFound:
		return fiber.StatusNotFound
	case rag.KindUnsupportedMethod:
		return fiber.StatusUnprocessableEntity
	case rag.KindBackendRejected:
		return fiber.StatusBadGateway
	case rag.KindBackendUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
