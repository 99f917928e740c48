package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/chat"
	"github.com/Paradize0404/bot-work/internal/workflow"
)

const stateAuthLastName = "auth:lastname"

func registerAuth(r *chat.Router, d *Deps) {
	r.HandleCommand("/start", func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		status, c, err := d.Auth.Status(ctx, u.UserID)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "auth status", err)
		}
		switch status {
		case workflow.Authorized:
			return sendMainMenu(ctx, d, u,
				fmt.Sprintf("👋 С возвращением, %s! (%s)", c.FirstName, c.DepartmentName))
		case workflow.NeedsDepartment:
			return askRestaurant(ctx, d, u)
		default:
			s := chat.NewSession(stateAuthLastName)
			if err := d.Sessions.Put(ctx, u.UserID, s); err != nil {
				return err
			}
			return say(ctx, d, u.ChatID,
				"🔐 Добро пожаловать! Для авторизации введите вашу фамилию:")
		}
	})

	r.HandleState(stateAuthLastName, func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		lastName := strings.TrimSpace(u.Text)
		if lastName == "" {
			return say(ctx, d, u.ChatID, "✍️ Введите фамилию текстом:")
		}
		matches, err := d.Auth.FindByLastName(ctx, lastName)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "find employee", err)
		}
		switch len(matches) {
		case 0:
			return say(ctx, d, u.ChatID,
				"🤷 Сотрудник с такой фамилией не найден. Проверьте написание и попробуйте снова:")
		case 1:
			return bindEmployee(ctx, d, u, matches[0].ID)
		default:
			btns := make([]chat.Btn, 0, len(matches))
			for _, m := range matches {
				btns = append(btns, chat.Btn{Text: m.Name, Data: "auth_emp:" + m.ID})
			}
			_, err := d.Transport.Send(ctx, u.ChatID, "Найдено несколько сотрудников, выберите себя:",
				&chat.SendOptions{InlineKeyboard: inlineRows(btns, 1)})
			return err
		}
	})

	r.HandleCallback("auth_emp:", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		id := strings.TrimPrefix(u.CallbackData, "auth_emp:")
		_ = d.Transport.Delete(ctx, u.ChatID, u.MessageID)
		return bindEmployee(ctx, d, u, id)
	})

	r.HandleCallback("auth_dept:", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		id := strings.TrimPrefix(u.CallbackData, "auth_dept:")
		name, err := d.Auth.SaveDepartment(ctx, u.UserID, id)
		if err != nil {
			return sayErr(ctx, d, u.ChatID, "save department", err)
		}
		_ = d.Transport.Delete(ctx, u.ChatID, u.MessageID)
		d.Catalog.InvalidateCaches(ctx, id)
		if err := sendMainMenu(ctx, d, u, fmt.Sprintf("🏨 Ресторан: %s", name)); err != nil {
			return err
		}
		refreshPinned(ctx, d, u.UserID)
		return nil
	})

	r.HandleText("🏠 Сменить ресторан", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		if _, err := requireContext(ctx, d, u); err != nil {
			return err
		}
		return askRestaurant(ctx, d, u)
	})
}

func bindEmployee(ctx context.Context, d *Deps, u *chat.Update, employeeID string) error {
	firstName, err := d.Auth.Bind(ctx, u.UserID, employeeID)
	if err != nil {
		return sayErr(ctx, d, u.ChatID, "bind employee", err)
	}
	_ = d.Sessions.Clear(ctx, u.UserID)
	if err := say(ctx, d, u.ChatID,
		fmt.Sprintf("✅ Здравствуйте, %s! Теперь выберите ваш ресторан.", firstName)); err != nil {
		return err
	}
	return askRestaurant(ctx, d, u)
}

func askRestaurant(ctx context.Context, d *Deps, u *chat.Update) error {
	rests, err := d.Auth.Restaurants(ctx)
	if err != nil {
		return sayErr(ctx, d, u.ChatID, "list restaurants", err)
	}
	if len(rests) == 0 {
		return say(ctx, d, u.ChatID, "🤷 Рестораны не найдены. Запустите синхронизацию подразделений.")
	}
	btns := make([]chat.Btn, 0, len(rests))
	for _, r := range rests {
		btns = append(btns, chat.Btn{Text: r.Name, Data: "auth_dept:" + r.ID})
	}
	_, err = d.Transport.Send(ctx, u.ChatID, "🏨 Выберите ресторан:",
		&chat.SendOptions{InlineKeyboard: inlineRows(btns, 2)})
	return err
}

// refreshPinned re-sends the user's pinned stop-list and stock messages so
// they match the freshly chosen restaurant.
func refreshPinned(ctx context.Context, d *Deps, userID int64) {
	if d.Stoplist != nil {
		for _, id := range d.Perms.StoplistSubscriberIDs(ctx) {
			if id == userID {
				if err := d.Stoplist.SendForUser(ctx, userID); err != nil {
					log.Warn().Err(err).Int64("user", userID).Msg("stoplist pin refresh failed")
				}
				break
			}
		}
	}
	if d.StockNotifier != nil {
		for _, id := range d.Perms.StockSubscriberIDs(ctx) {
			if id == userID {
				if err := d.StockNotifier.SendForUser(ctx, userID); err != nil {
					log.Warn().Err(err).Int64("user", userID).Msg("stock pin refresh failed")
				}
				break
			}
		}
	}
}
