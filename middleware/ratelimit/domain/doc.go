// Package domain define contratos e tipos de domínio da admissão de requisições.
//
// Este pacote não depende de net/http nem de implementações concretas de
// armazenamento. Políticas, decisões e o contrato da tabela de janelas ficam
// aqui para que as regras sejam testadas sem infraestrutura.
package domain
