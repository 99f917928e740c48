package bot

import (
	"context"

	"github.com/Paradize0404/bot-work/internal/chat"
	"github.com/Paradize0404/bot-work/internal/perm"
)

// Main-menu button order. Visibility is filtered per user by the matrix.
var mainMenuOrder = []string{
	"📝 Списания", "📦 Накладные", "📋 Заявки", "📊 Отчёты",
	"📑 Документы", "💰 Прайс-лист", "🏠 Сменить ресторан", "⚙️ Настройки",
}

// Submenus are static; access is enforced per button by TextPermissions.
var submenus = map[string][][]string{
	"📝 Списания": {
		{"📝 Создать списание", "🗂 История списаний"},
		{"◀️ Назад"},
	},
	"📦 Накладные": {
		{"📑 Создать шаблон накладной", "📦 Создать по шаблону"},
		{"◀️ Назад"},
	},
	"📋 Заявки": {
		{"✏️ Создать заявку", "📒 История заявок"},
		{"📬 Входящие заявки"},
		{"◀️ Назад"},
	},
	"📊 Отчёты": {
		{"📊 Мин. остатки по складам", "✏️ Изменить мин. остаток"},
		{"📋 Отчёт дня"},
		{"◀️ Назад"},
	},
	"📑 Документы": {
		{"📤 Загрузить накладные", "✅ Маппинг готов"},
		{"◀️ Назад"},
	},
	"⚙️ Настройки": {
		{"🔄 Синхронизация", "📤 Google Таблицы"},
		{"☁️ iikoCloud вебхук", "🔑 Права → GSheet"},
		{"◀️ Назад"},
	},
	"🔄 Синхронизация": {
		{"⚡ Синхр. ВСЁ (iiko + FT)"},
		{"🔄 Синхр. ВСЁ iiko", "💹 FT: Синхр. ВСЁ"},
		{"📋 Синхр. справочники", "📦 Синхр. номенклатуру"},
		{"🏢 Синхр. подразделения", "🏪 Синхр. склады"},
		{"🚚 Синхр. поставщиков", "👷 Синхр. сотрудников"},
		{"🌙 Ночное перемещение сейчас"},
		{"🔙 К настройкам"},
	},
	"📤 Google Таблицы": {
		{"📤 Номенклатура → GSheet", "📥 Мин. остатки GSheet → БД"},
		{"💰 Прайс-лист → GSheet"},
		{"🔙 К настройкам"},
	},
	"☁️ iikoCloud вебхук": {
		{"📋 Получить организации", "🔗 Привязать организации"},
		{"🔗 Зарегистрировать вебхук", "ℹ️ Статус вебхука"},
		{"🔄 Обновить остатки сейчас"},
		{"🔙 К настройкам"},
	},
}

// mainMenuKeyboard builds the user's personalised reply keyboard, two
// buttons per row.
func mainMenuKeyboard(ctx context.Context, d *Deps, userID int64) [][]string {
	allowed := d.Perms.AllowedMenuButtons(ctx, userID)
	var flat []string
	for _, b := range mainMenuOrder {
		if _, gated := perm.MenuButtonGroups[b]; gated && !allowed[b] {
			continue
		}
		flat = append(flat, b)
	}
	var rows [][]string
	for len(flat) > 0 {
		n := 2
		if n > len(flat) {
			n = len(flat)
		}
		rows = append(rows, flat[:n])
		flat = flat[n:]
	}
	return rows
}

func sendMainMenu(ctx context.Context, d *Deps, u *chat.Update, greeting string) error {
	_, err := d.Transport.Send(ctx, u.ChatID, greeting, &chat.SendOptions{
		ReplyKeyboard: mainMenuKeyboard(ctx, d, u.UserID),
	})
	return err
}

// sectionWarm runs when a user opens a section, before the submenu is sent.
// Warmers are fire-and-forget; the handlers inside reload on a cold cache.
var sectionWarm = map[string]func(*Deps, int64){
	"📝 Списания": warmWriteoffRefs,
}

func registerMenu(r *chat.Router, d *Deps) {
	for button, rows := range submenus {
		rows := rows
		title := button
		r.HandleText(button, func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
			if warm, ok := sectionWarm[title]; ok {
				go warm(d, u.UserID)
			}
			_, err := d.Transport.Send(ctx, u.ChatID, title, &chat.SendOptions{
				ReplyKeyboard: rows,
			})
			return err
		})
	}

	back := func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		return sendMainMenu(ctx, d, u, "🏠 Главное меню")
	}
	r.HandleText("◀️ Назад", back)
	r.HandleText("🔙 К настройкам", func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		_, err := d.Transport.Send(ctx, u.ChatID, "⚙️ Настройки", &chat.SendOptions{
			ReplyKeyboard: submenus["⚙️ Настройки"],
		})
		return err
	})
	r.HandleText("❌ Отмена", back)

	// Unclaimed text lands here: remind the user where they are.
	r.SetFallback(func(ctx context.Context, u *chat.Update, sess *chat.Session) error {
		if sess != nil {
			// A state without a registered handler should not happen; reset.
			_ = d.Sessions.Clear(ctx, u.UserID)
		}
		if c, _ := d.Users.Context(ctx, u.UserID); c == nil {
			return say(ctx, d, u.ChatID, "🔐 Отправьте /start для авторизации")
		}
		return sendMainMenu(ctx, d, u, "🏠 Главное меню")
	})
	r.SetOnCancel(func(ctx context.Context, u *chat.Update, _ *chat.Session) error {
		return sendMainMenu(ctx, d, u, "🏠 Главное меню")
	})
}
